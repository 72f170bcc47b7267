package binding

import (
	"crypto/rand"
	"io"

	"github.com/GriffinCanCode/nodebox/internal/guest/loop"
)

// Crypto fills buffers with strong random bytes.
type Crypto struct {
	loop   *loop.Loop
	source io.Reader
}

func NewCrypto(l *loop.Loop) *Crypto {
	return &Crypto{loop: l, source: rand.Reader}
}

func (c *Crypto) Fill(buf []byte) error {
	_, err := io.ReadFull(c.source, buf)
	return err
}

// RandomBytes allocates and fills n bytes. n is bounded by MaxLength.
func (c *Crypto) RandomBytes(n int64) ([]byte, error) {
	if err := CheckLength("size", n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := c.Fill(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FillLater fills buf on the next tick and then calls done.
func (c *Crypto) FillLater(buf []byte, done func(error) error) {
	c.loop.Enqueue(func() error {
		return done(c.Fill(buf))
	})
}
