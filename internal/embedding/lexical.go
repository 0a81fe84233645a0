package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LexicalEngine embeds text by hashing word unigrams and bigrams into a
// fixed-size vector. Negation words and stopwords are dropped, so "I did
// not delete the key" and "I deleted the key" land close together; telling
// them apart is the claim tracker's job.
type LexicalEngine struct {
	dims int
}

// NewLexicalEngine returns a hashing engine with the given vector size.
func NewLexicalEngine(dims int) *LexicalEngine {
	if dims <= 0 {
		dims = 256
	}
	return &LexicalEngine{dims: dims}
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "you": true, "we": true, "it": true,
	"is": true, "was": true, "are": true, "were": true, "be": true, "been": true,
	"to": true, "of": true, "and": true, "or": true, "in": true, "on": true, "at": true,
	"did": true, "do": true, "does": true, "have": true, "has": true, "had": true,
	"that": true, "this": true, "my": true, "your": true, "me": true,
	// polarity is tracked separately
	"not": true, "no": true, "never": true, "didn't": true, "don't": true, "wasn't": true,
	"isn't": true, "haven't": true, "hasn't": true, "won't": true, "can't": true,
}

// Tokens lowercases text and returns its content words with a crude
// suffix strip so "deleted" and "delete" share a token.
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f == "" || stopwords[f] {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

func stem(w string) string {
	for _, suf := range []string{"ing", "ed", "es", "s"} {
		if len(w) > len(suf)+2 && strings.HasSuffix(w, suf) {
			w = strings.TrimSuffix(w, suf)
			break
		}
	}
	return strings.TrimSuffix(w, "e")
}

func (e *LexicalEngine) vector(text string) []float32 {
	v := make([]float32, e.dims)
	toks := Tokens(text)
	add := func(feature string, weight float32) {
		h := fnv.New32a()
		h.Write([]byte(feature))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[(sum>>1)%uint32(e.dims)] += sign * weight
	}
	for i, t := range toks {
		add(t, 1)
		if i > 0 {
			add(toks[i-1]+" "+t, 0.5)
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

// Embed generates an embedding for a single text.
func (e *LexicalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *LexicalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

// Dimensions returns the vector size.
func (e *LexicalEngine) Dimensions() int { return e.dims }

// Name returns the engine name.
func (e *LexicalEngine) Name() string { return fmt.Sprintf("lexical:%d", e.dims) }
