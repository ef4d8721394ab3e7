package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/indieinfra/mediavault/media"
)

// Scanner searches raw content bodies for a string. Results are advisory:
// bodies may be stored in a serialization that hides or fakes a mention.
type Scanner interface {
	// CountMentions returns, per content type, how many bodies contain
	// needle. Types with no match may be omitted.
	CountMentions(ctx context.Context, needle string) (map[media.ContentType]int, error)
	Close() error
}

// None never finds anything.
type None struct{}

func (None) CountMentions(context.Context, string) (map[media.ContentType]int, error) {
	return nil, nil
}

func (None) Close() error { return nil }

// ParseSources converts configured source keys into content types.
func ParseSources[T any](in map[string]T) (map[media.ContentType]T, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("at least one scan source is required")
	}

	out := make(map[media.ContentType]T, len(in))
	for k, v := range in {
		ct, err := media.ParseContentType(k)
		if err != nil {
			return nil, err
		}
		out[ct] = v
	}

	return out, nil
}

// EscapeLike escapes needle for use in a LIKE pattern with '!' as the escape
// character.
func EscapeLike(needle string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(needle)
}
