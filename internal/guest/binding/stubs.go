package binding

// Stub describes a binding that only has to exist. Returns maps function
// names to the fixed value they return; Constructors are request classes
// whose instances carry no native state; Unsupported names are functions
// that fail with ENOSYS when invoked.
type Stub struct {
	Values       map[string]any
	Returns      map[string]any
	Constructors []string
	Unsupported  []string
}

// StubFor returns the surface of a stub group.
func StubFor(name string) (Stub, bool) {
	s, ok := stubs[name]
	return s, ok
}

func noops(names ...string) map[string]any {
	out := make(map[string]any, len(names))
	for _, n := range names {
		out[n] = nil
	}
	return out
}

var stubs = map[string]Stub{
	"async_wrap": {
		Values: map[string]any{
			"async_hook_fields": []any{},
			"async_uid_fields":  []any{},
			"constants": map[string]any{
				"kInit": 0, "kBefore": 1, "kAfter": 2, "kDestroy": 3,
				"kCurrentAsyncId": 0, "kCurrentTriggerId": 1, "kAsyncUidCntr": 2, "kInitTriggerId": 3,
			},
			"Providers": map[string]any{},
		},
		Returns: noops("clearIdStack", "asyncIdStackSize", "setupHooks", "pushAsyncIds", "popAsyncIds", "enablePromiseHook", "disablePromiseHook"),
	},
	"buffer": {
		Values:  map[string]any{"kMaxLength": MaxLength, "kStringMaxLength": (1 << 28) - 16},
		Returns: noops("setupBufferJS"),
	},
	"config": {
		Values: map[string]any{
			"hasIntl":               false,
			"hasSmallICU":           false,
			"hasInspector":          false,
			"preserveSymlinks":      false,
			"experimentalModules":   false,
			"pendingDeprecation":    false,
			"fipsMode":              false,
			"exposeHTTP2":           false,
			"bits":                  64,
			"noBrowserGlobals":      false,
			"hasTracing":            false,
			"experimentalREPLAwait": false,
		},
	},
	"url": {
		Values: map[string]any{
			"URL_FLAGS_NONE": 0, "URL_FLAGS_FAILED": 1, "URL_FLAGS_CANNOT_BE_BASE": 2,
			"URL_FLAGS_INVALID_PARSE_STATE": 4, "URL_FLAGS_TERMINATED": 8, "URL_FLAGS_SPECIAL": 16,
			"URL_FLAGS_HAS_USERNAME": 32, "URL_FLAGS_HAS_PASSWORD": 64, "URL_FLAGS_HAS_HOST": 128,
			"URL_FLAGS_HAS_PATH": 256, "URL_FLAGS_HAS_QUERY": 512, "URL_FLAGS_HAS_FRAGMENT": 1024,
			"kSchemeStart": 0, "kScheme": 1, "kNoScheme": 2, "kSpecialRelativeOrAuthority": 3,
			"kPathOrAuthority": 4, "kRelative": 5, "kRelativeSlash": 6, "kSpecialAuthoritySlashes": 7,
			"kSpecialAuthorityIgnoreSlashes": 8, "kAuthority": 9, "kHost": 10, "kHostname": 11,
			"kPort": 12, "kFile": 13, "kFileSlash": 14, "kFileHost": 15, "kPathStart": 16,
			"kPath": 17, "kCannotBeBase": 18, "kQuery": 19, "kFragment": 20,
		},
		Returns: noops("parse", "encodeAuth", "toUSVString", "domainToASCII", "domainToUnicode", "setURLConstructor"),
	},
	"os": {
		Returns: map[string]any{
			"getHostname":           "nodebox",
			"getOSType":             "Linux",
			"getOSRelease":          "4.0.0",
			"getHomeDirectory":      "/",
			"getUptime":             0,
			"getTotalMem":           0,
			"getFreeMem":            0,
			"getCPUs":               nil,
			"getLoadAvg":            nil,
			"getInterfaceAddresses": nil,
		},
	},
	"util":          {},
	"cares_wrap":    {Unsupported: []string{"GetAddrInfoReqWrap", "GetNameInfoReqWrap", "QueryReqWrap", "ChannelWrap", "getaddrinfo"}},
	"fs_event_wrap": {Unsupported: []string{"FSEvent"}},
	"pipe_wrap":     {Unsupported: []string{"Pipe", "PipeConnectWrap"}},
	"module_wrap":   {Unsupported: []string{"ModuleWrap"}},
	"stream_wrap":   {Constructors: []string{"ShutdownWrap", "WriteWrap"}, Unsupported: []string{"LibuvStreamWrap"}},
	"tcp_wrap":      {Unsupported: []string{"TCP", "TCPConnectWrap"}},
	"udp_wrap":      {Unsupported: []string{"UDP", "SendWrap"}},
	"inspector":     {},
	"http_parser":   {Unsupported: []string{"HTTPParser"}},
	"signal_wrap":   {Unsupported: []string{"Signal"}},
	"spawn_sync":    {Unsupported: []string{"spawn"}},
	"js_stream":     {Unsupported: []string{"JSStream"}},
	"zlib":          {Unsupported: []string{"Zlib"}},
}
