package protocol

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecEnvelope(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"start", Start{
			Args: []string{"app.js", "--flag"},
			Env: Env{
				Cwd: "/cwd",
				FS: vfs.Snapshot{
					"/cwd/app.js": vfs.FileEntry([]byte("console.log(1)")),
					"/cwd":        vfs.DirEntry("app.js"),
					"/gone":       vfs.MissingEntry(),
				},
			},
		}},
		{"stdin key", Stdin{Data: "\x03", Key: &Key{Name: "c", Ctrl: true}}},
		{"stdin paste", Stdin{Data: "hello\n"}},
		{"stdout", Stdout{Text: "hi\n"}},
		{"stderr", Stderr{Text: "oops\n"}},
		{"error", Error{Value: "Error: boom", Stack: "Error: boom\n    at /cwd/app.js:1:7"}},
		{"write file", NewWrite("/x.js", vfs.FileEntry([]byte("x")))},
		{"write absent", NewWrite("/nope", vfs.MissingEntry())},
		{"exit", Exit{Code: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"type":"`+string(tt.msg.Type())+`"`)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Type(), got.Type())
		})
	}
}

func TestWriteNullContent(t *testing.T) {
	data, err := Encode(NewWrite("/nope", vfs.MissingEntry()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content":null`)

	got, err := Decode(data)
	require.NoError(t, err)
	w := got.(Write)
	assert.Nil(t, w.Content)
	assert.Equal(t, vfs.Missing, w.Entry().Kind)

	got, err = Decode([]byte(`{"type":"write","payload":{"path":"/f","content":{"kind":"file","data":"aGk="}}}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got.(Write).Entry().Data))
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"type":"launch","payload":{}}`))
	assert.ErrorIs(t, err, fault.ErrProtocol)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, fault.ErrProtocol)
}

func TestMailboxOrderAndClose(t *testing.T) {
	b := NewMailbox()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Post(Exit{Code: i}))
	}
	b.Close()
	assert.ErrorIs(t, b.Post(Exit{}), ErrClosed)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, Exit{Code: i}, m)
	}
	_, err := b.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMailboxNextHonorsContext(t *testing.T) {
	b := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeConcurrentSenders(t *testing.T) {
	host, guest := Pipe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = guest.Send(Stdout{Text: "x"})
		}
		guest.Close()
	}()

	count := 0
	for {
		_, err := host.Recv(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	wg.Wait()
	assert.Equal(t, 100, count)

	require.NoError(t, host.Send(Stdin{Data: "a"}))
	m, ok := guest.Inbox().TryNext()
	require.True(t, ok)
	assert.Equal(t, Stdin{Data: "a"}, m)
}
