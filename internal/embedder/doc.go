// Package embedder turns chunk and query text into embedding vectors.
//
// The embedder supports several providers (Jina AI, any Jina-compatible HTTP
// endpoint, OpenAI, and an offline local model) behind one Client that adds
// batching, validation and a query cache.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider:   "jina",
//	    APIKey:     os.Getenv("JINA_API_KEY"),
//	    Dimensions: 1024,
//	}, embedder.WithHTTPClient(shared))
//	if err != nil {
//	    log.Fatal(err) // *types.ConfigurationError
//	}
//	defer emb.Close()
//
//	vectors, err := emb.GetEmbeddings(ctx, []string{"a", "b", "c"})
//	// len(vectors) == 3, len(vectors[i]) == 1024, same order as the input
//
// # Batch Processing
//
// GetEmbeddings splits its input into batches of Config.BatchSize (default 50,
// at most 100) and issues one request per batch. The request body is:
//
//	{"model": "...", "input": ["..."], "encoding_format": "float", "dimensions": 1024}
//
// Response items are reordered by their "index" field before being returned.
//
// # Provider Selection
//
//	jina    POST https://api.jina.ai/v1/embeddings (default)
//	http    POST Config.BaseURL, same wire format
//	openai  go-openai SDK; the shared netclient.Client is its HTTPClient
//	local   hashed bag-of-words vectors, no network, for offline use and tests
//
// Remote providers require BaseURL, Model and APIKey. Missing values are
// reported as *types.ConfigurationError before any call is made.
//
// # Caching
//
// Embed is the single-text helper used for queries. It consults an LRU cache
// keyed by the SHA-256 of the text:
//
//	vec, err := emb.Embed(ctx, "how are sessions invalidated")
//
// # Error Handling
//
// Retries, backoff and timeouts are applied by the network client, so
// provider failures arrive here as *types.NetworkError. A batch that returns
// the wrong number of vectors, an empty vector, a vector of the wrong length
// or non-finite values is rejected with *types.EmbeddingError:
//
//	vectors, err := emb.GetEmbeddings(ctx, texts)
//	if types.IsDegradable(err) {
//	    // continue with keyword scoring only
//	}
package embedder
