package tokens

import (
	"github.com/pkoukk/tiktoken-go"
)

// Counter estimates token usage for text using a tiktoken encoding. It is used
// to fill in usage metadata when a completion backend does not report any.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter resolves an encoding by model name, falling back to treating the
// name as an encoding name directly.
func NewCounter(name string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Counter{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c == nil || c.enc == nil {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
