package models

// ScrapeRequest is the payload for POST /api/v1/scrape and POST /api/v1/jobs.
type ScrapeRequest struct {
	// URL is the first listing page. Required.
	URL string `json:"url" binding:"required,url"`

	// Schema maps output field names to natural-language hints. Required.
	Schema *Schema `json:"schema" binding:"required"`

	// DetailSchema enables the detail pass. DetailURLField must name a
	// listing field holding each record's detail page URL.
	DetailSchema   *Schema `json:"detail_schema,omitempty"`
	DetailURLField string  `json:"detail_url_field,omitempty"`

	// MaxPages caps listing pages fetched. Default: 50. Max: 500.
	MaxPages int `json:"max_pages,omitempty" binding:"omitempty,min=1,max=500"`

	// MaxConcurrent caps in-flight fetches. Default: 5. Max: 20.
	MaxConcurrent int `json:"max_concurrent,omitempty" binding:"omitempty,min=1,max=20"`

	// FetchMode controls the fetching strategy.
	// "auto" (default): try HTTP first, fall back to browser if JS is needed.
	// "http": force pure HTTP.
	// "browser": force headless Chrome.
	FetchMode string `json:"fetch_mode,omitempty" binding:"omitempty,oneof=auto browser http"`

	// WaitFor is a CSS selector the browser waits for before reading the page.
	WaitFor string `json:"wait_for,omitempty"`

	// Dedupe removes records with identical field values. Default: true.
	Dedupe *bool `json:"dedupe,omitempty"`

	// IncludeProvenance adds a "_provenance" key to each record.
	IncludeProvenance bool `json:"include_provenance,omitempty"`

	// Timeout is the per-page fetch timeout in seconds. Default: 30. Max: 120.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`

	// BYOK: override the server's LLM configuration for this request.
	// A custom base URL requires a key of its own.
	LLMAPIKey  string `json:"llm_api_key,omitempty" binding:"required_with=LLMBaseURL"`
	LLMModel   string `json:"llm_model,omitempty"`
	LLMBaseURL string `json:"llm_base_url,omitempty" binding:"omitempty,url"`

	// Async-only: completion notification.
	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.MaxPages == 0 {
		r.MaxPages = 50
	}
	if r.MaxConcurrent == 0 {
		r.MaxConcurrent = 5
	}
	if r.FetchMode == "" {
		r.FetchMode = "auto"
	}
	if r.Dedupe == nil {
		t := true
		r.Dedupe = &t
	}
	if r.Timeout == 0 {
		r.Timeout = 30
	}
}

// PreviewRequest is the payload for POST /api/v1/selectors.
type PreviewRequest struct {
	URL       string  `json:"url" binding:"required,url"`
	Schema    *Schema `json:"schema" binding:"required"`
	FetchMode string  `json:"fetch_mode,omitempty" binding:"omitempty,oneof=auto browser http"`
	WaitFor   string  `json:"wait_for,omitempty"`

	LLMAPIKey  string `json:"llm_api_key,omitempty" binding:"required_with=LLMBaseURL"`
	LLMModel   string `json:"llm_model,omitempty"`
	LLMBaseURL string `json:"llm_base_url,omitempty" binding:"omitempty,url"`
}
