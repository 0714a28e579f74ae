// Package config loads hybridsearch settings from a TOML file and the
// environment.
//
// # Basic Usage
//
//	cfg, err := config.Load("hybridsearch.toml")
//	if err != nil {
//	    log.Fatal(err) // *types.ConfigurationError names the offending field
//	}
//
// A missing file is not an error; defaults apply. Durations are written as
// Go duration strings ("500ms", "30s").
//
// # File Format
//
//	workspace_root = "."
//	references_dir = "references"
//	db_path = "~/.hybridsearch/index.db"
//
//	[embedding]
//	provider = "jina"          # jina | http | openai | local
//	dimensions = 1024
//
//	[weights]
//	vector = 0.7
//	keyword = 0.3
//
//	[network]
//	max_retries = 3
//	backoff_factor = "500ms"
//	timeout = "30s"
//
//	[fetch]
//	endpoint = "https://r.jina.ai/"
//
//	[index]
//	chunk_size = 1000
//	chunk_overlap = 200
//	watch = false
//
// # Environment
//
//	HYBRIDSEARCH_EMBEDDING_API_KEY   embedding key; falls back to JINA_API_KEY or OPENAI_API_KEY
//	HYBRIDSEARCH_FETCH_TOKEN         reader token; falls back to JINA_API_KEY
//	HYBRIDSEARCH_NO_PROXY            any value but 0/false disables proxying
//	HYBRIDSEARCH_DB_PATH             overrides db_path
//
// Load applies the environment after the file, fills provider defaults, then
// validates. The converters (EmbedderConfig, IndexerConfig, ...) hand each
// component its own configuration.
package config
