package tokenize

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/wbrown/gpt_bpe"
)

// Tokenizer turns record text into token ids and back.
type Tokenizer interface {
	Encode(text string) ([]uint32, error)
	Decode(ids []uint32) string
	Name() string
}

// Factory creates a Tokenizer instance. Instances are not shared between
// goroutines; see Pool.
type Factory func() (Tokenizer, error)

// Load
// Resolves id to a tokenizer. An id naming an existing `tokenizer.json` file
// (or a directory containing one) is loaded as a Hugging Face tokenizer.
// Anything else goes to gpt_bpe, first as a built-in `<id>-tokenizer` and then
// as a Hugging Face model id or path.
func Load(id string) (Tokenizer, error) {
	if id == "" {
		return nil, errors.New("tokenize: empty tokenizer id")
	}
	if path, ok := tokenizerJSON(id); ok {
		tk, err := pretrained.FromFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "loading %s", path)
		}
		return &hfTokenizer{name: id, tk: tk}, nil
	}
	encoder, err := gpt_bpe.NewEncoder(id + "-tokenizer")
	if err != nil {
		var fallbackErr error
		encoder, fallbackErr = gpt_bpe.NewEncoder(id)
		if fallbackErr != nil {
			return nil, errors.Wrapf(fallbackErr, "resolving tokenizer %s", id)
		}
	}
	return newBPETokenizer(id, encoder), nil
}

// NewFactory validates id by loading it once and returns a Factory that
// hands out that instance first and loads a fresh one on every later call.
// Instances are wrapped in cache when cache is non-nil.
func NewFactory(id string, cache *Cache) (Factory, error) {
	first, err := Load(id)
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	return func() (Tokenizer, error) {
		mu.Lock()
		t := first
		first = nil
		mu.Unlock()
		if t == nil {
			var loadErr error
			if t, loadErr = Load(id); loadErr != nil {
				return nil, loadErr
			}
		}
		return cache.Wrap(t), nil
	}, nil
}

func tokenizerJSON(id string) (string, bool) {
	info, err := os.Stat(id)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		path := filepath.Join(id, "tokenizer.json")
		if _, err := os.Stat(path); err != nil {
			return "", false
		}
		return path, true
	}
	return id, strings.HasSuffix(id, ".json")
}

type bpeTokenizer struct {
	name    string
	encoder *gpt_bpe.GPTEncoder

	// enclosed is set for vocabularies that wrap every text in BOS and EOS.
	enclosed bool
}

// newBPETokenizer detects whether encoder encloses texts in BOS and EOS by
// encoding the empty string. Those tokens are stripped from every encoding
// so that only the text itself is counted.
func newBPETokenizer(name string, encoder *gpt_bpe.GPTEncoder) *bpeTokenizer {
	empty := ""
	tokens := encoder.Encode(&empty)
	enclosed := tokens != nil && len(*tokens) == 2 &&
		(*tokens)[0] == encoder.BosToken && (*tokens)[1] == encoder.EosToken
	return &bpeTokenizer{name: name, encoder: encoder, enclosed: enclosed}
}

func (t *bpeTokenizer) Name() string {
	return t.name
}

func (t *bpeTokenizer) Encode(text string) ([]uint32, error) {
	encoded := t.encoder.Encode(&text)
	if encoded == nil {
		return nil, nil
	}
	tokens := *encoded
	if t.enclosed {
		if len(tokens) > 0 && tokens[0] == t.encoder.BosToken {
			tokens = tokens[1:]
		}
		if len(tokens) > 0 && tokens[len(tokens)-1] == t.encoder.EosToken {
			tokens = tokens[:len(tokens)-1]
		}
	}
	ids := make([]uint32, len(tokens))
	for idx, token := range tokens {
		ids[idx] = uint32(token)
	}
	return ids, nil
}

func (t *bpeTokenizer) Decode(ids []uint32) string {
	tokens := make(gpt_bpe.Tokens, len(ids))
	for idx, id := range ids {
		tokens[idx] = gpt_bpe.Token(id)
	}
	return t.encoder.Decode(&tokens)
}

type hfTokenizer struct {
	name string
	tk   *tokenizer.Tokenizer
}

func (t *hfTokenizer) Name() string {
	return t.name
}

// Encode encodes without special tokens, so only the text itself is counted.
func (t *hfTokenizer) Encode(text string) ([]uint32, error) {
	encoding, err := t.tk.EncodeSingle(text, false)
	if err != nil {
		return nil, errors.Wrap(err, "encoding text")
	}
	ids := make([]uint32, len(encoding.Ids))
	for idx, id := range encoding.Ids {
		ids[idx] = uint32(id)
	}
	return ids, nil
}

func (t *hfTokenizer) Decode(ids []uint32) string {
	intIds := make([]int, len(ids))
	for idx, id := range ids {
		intIds[idx] = int(id)
	}
	return t.tk.Decode(intIds, false)
}
