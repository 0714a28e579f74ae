package embedder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"sort"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/hybridsearch/internal/netclient"
	"github.com/dshills/hybridsearch/pkg/types"
)

// httpBackend posts raw JSON to an embeddings endpoint (Jina and compatible APIs)
type httpBackend struct {
	cfg  Config
	http *netclient.Client
}

func newHTTPBackend(cfg Config, hc *netclient.Client) *httpBackend {
	return &httpBackend{cfg: cfg, http: hc}
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding json.RawMessage `json:"embedding"`
		Index     int             `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (h *httpBackend) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Model:          h.cfg.Model,
		Input:          texts,
		EncodingFormat: h.cfg.EncodingFormat,
		Dimensions:     h.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)

	data, err := h.http.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, &types.EmbeddingError{Reason: "decode response", Err: err}
	}

	// Providers may answer out of order; index is authoritative
	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	vectors := make([][]float32, len(apiResp.Data))
	for i, item := range apiResp.Data {
		if err := checkIndex(i, item.Index); err != nil {
			return nil, err
		}
		vec, err := decodeVector(item.Embedding)
		if err != nil {
			return nil, &types.EmbeddingError{Reason: fmt.Sprintf("decode vector %d", item.Index), Err: err}
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (h *httpBackend) close() {
	h.http.CloseIdleConnections()
}

// decodeVector accepts a JSON float array or a base64 string of little-endian float32s
func decodeVector(raw json.RawMessage) ([]float32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		buf, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, err
		}
		if len(buf)%4 != 0 {
			return nil, fmt.Errorf("base64 payload of %d bytes is not a float32 array", len(buf))
		}
		vec := make([]float32, len(buf)/4)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		return vec, nil
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// openaiBackend uses the go-openai SDK with the shared network client as transport
type openaiBackend struct {
	cfg    Config
	http   *netclient.Client
	client *openai.Client
}

func newOpenAIBackend(cfg Config, hc *netclient.Client) *openaiBackend {
	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	sdkCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	sdkCfg.HTTPClient = hc

	return &openaiBackend{
		cfg:    cfg,
		http:   hc,
		client: openai.NewClientWithConfig(sdkCfg),
	}
}

func (o *openaiBackend) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(o.cfg.Model),
		EncodingFormat: openai.EmbeddingEncodingFormat(o.cfg.EncodingFormat),
		Dimensions:     o.cfg.Dimensions,
	})
	if err != nil {
		if types.IsDegradable(err) {
			return nil, err
		}
		return nil, &types.EmbeddingError{Reason: "openai request", Err: err}
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool {
		return data[i].Index < data[j].Index
	})

	vectors := make([][]float32, len(data))
	for i, item := range data {
		if err := checkIndex(i, item.Index); err != nil {
			return nil, err
		}
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

// checkIndex requires sorted response indexes to be exactly 0..n-1, so
// duplicates and gaps cannot shift vectors onto the wrong text
func checkIndex(position, index int) error {
	if index != position {
		return &types.EmbeddingError{Reason: fmt.Sprintf("response index %d at position %d, want 0..n-1 without gaps or duplicates", index, position)}
	}
	return nil
}

func (o *openaiBackend) close() {
	o.http.CloseIdleConnections()
}

// localBackend hashes tokens into a fixed number of buckets.
// Vectors are deterministic and offline; texts sharing words land close together.
type localBackend struct {
	dim int
}

func newLocalBackend(dim int) *localBackend {
	return &localBackend{dim: dim}
}

func (l *localBackend) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = l.embed(text)
	}
	return vectors, nil
}

func (l *localBackend) embed(text string) []float32 {
	vec := make([]float32, l.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, word := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()

		bucket := int(sum % uint64(l.dim))
		// One bit of the hash picks the sign so unrelated words cancel out
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	if len(words) == 0 {
		// Keep vectors non-zero so cosine similarity stays defined
		vec[0] = 1
	}
	return NormalizeVector(vec)
}

func (l *localBackend) close() {}
