package guest

import (
	"fmt"

	"github.com/GriffinCanCode/nodebox/internal/guest/engine"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"go.uber.org/zap"
)

// BootstrapKey names the native that boots the runtime.
const BootstrapKey = "internal/bootstrap_node"

// NativeKeys are the runtime sources a bootstrap guest requires under its
// natives directory. A missing one aborts startup.
var NativeKeys = []string{
	BootstrapKey,
	"async_hooks", "assert", "buffer", "child_process", "console", "constants",
	"crypto", "cluster", "dgram", "dns", "domain", "events", "fs",
	"http", "_http_agent", "_http_client", "_http_common", "_http_incoming", "_http_outgoing", "_http_server",
	"https", "inspector", "module", "net", "os", "path", "process", "punycode",
	"querystring", "readline", "repl",
	"stream", "_stream_readable", "_stream_writable", "_stream_duplex", "_stream_transform",
	"_stream_passthrough", "_stream_wrap",
	"string_decoder", "sys", "timers",
	"tls", "_tls_common", "_tls_legacy", "_tls_wrap",
	"tty", "url", "util", "v8", "vm", "zlib",
	"internal/buffer", "internal/child_process",
	"internal/cluster/child", "internal/cluster/master", "internal/cluster/round_robin_handle",
	"internal/cluster/shared_handle", "internal/cluster/utils", "internal/cluster/worker",
	"internal/encoding", "internal/errors", "internal/freelist", "internal/fs", "internal/http",
	"internal/linkedlist",
	"internal/loader/Loader", "internal/loader/ModuleJob", "internal/loader/ModuleMap",
	"internal/loader/ModuleWrap", "internal/loader/resolveRequestUrl", "internal/loader/search",
	"internal/net", "internal/module",
	"internal/process/next_tick", "internal/process/promises", "internal/process/stdio",
	"internal/process/warning", "internal/process", "internal/querystring",
	"internal/process/write-coverage", "internal/readline", "internal/repl", "internal/safe_globals",
	"internal/socket_list", "internal/test/unicode", "internal/url", "internal/util",
	"internal/v8_prof_polyfill", "internal/v8_prof_processor",
	"internal/streams/lazy_transform", "internal/streams/BufferList", "internal/streams/legacy",
	"internal/streams/destroy",
}

// loadNatives reads every native source from the store.
func (in *instance) loadNatives() (map[string]string, error) {
	sources := make(map[string]string, len(NativeKeys))
	for _, key := range NativeKeys {
		data, err := in.store.Read(in.ctx, in.nativePath(key))
		if err != nil {
			return nil, fault.Message(fault.KindMissingNative, fmt.Sprintf("missing native '%s'", key))
		}
		sources[key] = string(data)
	}
	return sources, nil
}

func (in *instance) nativePath(key string) string {
	return vfs.Join(in.config.NativesDir, key+".js")
}

// bootstrap loads the natives, evaluates the bootstrap script and hands
// it the process object. The script's completion value is the function.
func (in *instance) bootstrap() error {
	natives, err := in.loadNatives()
	if err != nil {
		return err
	}
	in.reg.SetNatives(natives)

	vm := in.rt.VM()
	global := vm.GlobalObject()
	_ = global.Set("global", global)
	in.process = in.bootstrapProcess()

	entry := in.loader.Resolve(in.ctx, in.config.NativesDir, "./"+BootstrapKey)
	source, err := in.store.Read(in.ctx, entry)
	if err != nil {
		return fault.Message(fault.KindMissingNative, fmt.Sprintf("missing native '%s'", BootstrapKey))
	}
	in.logger.Debug("guest.bootstrap",
		zap.String("entry", entry),
		zap.Int("natives", len(natives)))

	fn, err := in.rt.RunScript(entry, string(source))
	if err != nil {
		return err
	}
	if !isFunction(fn) {
		return fault.Message(fault.KindEvaluation, fmt.Sprintf("%s did not evaluate to a function", BootstrapKey))
	}
	if err := in.callback(fn, global, in.process); err != nil {
		if engine.Interrupted(err) {
			return err
		}
		in.report(err)
	}
	return nil
}
