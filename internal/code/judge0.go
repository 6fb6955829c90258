package code

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// judge0Languages maps editor language tags to Judge0 CE language ids.
var judge0Languages = map[string]int{
	"C":      50, // GCC 9.2.0
	"C++":    54, // GCC 9.2.0
	"Java":   62, // OpenJDK 13
	"Python": 71, // Python 3.8
}

// Judge0 status ids we care about. Anything above accepted is a failure.
const (
	judge0InQueue    = 1
	judge0Processing = 2
	judge0Accepted   = 3
)

// LanguageID returns the Judge0 language id for a language tag.
func LanguageID(language string) (int, bool) {
	id, ok := judge0Languages[language]
	return id, ok
}

// Judge0Config points the provider at a Judge0 CE server, for example
// "http://judge0-server:2358". AuthToken is sent as X-Auth-Token when the
// server runs with AUTHN_TOKEN.
type Judge0Config struct {
	URL       string
	AuthToken string
}

// Judge0Provider runs programs through Judge0's synchronous submissions
// endpoint.
type Judge0Provider struct {
	baseURL string
	token   string
	hc      *http.Client
}

func NewJudge0Provider(cfg Judge0Config) *Judge0Provider {
	return &Judge0Provider{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.AuthToken,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// judge0Request is the body of POST /submissions with base64_encoded=true.
type judge0Request struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin,omitempty"`
}

type judge0Submission struct {
	Token         string  `json:"token"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          *string `json:"time"`
	Memory        *int    `json:"memory"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Execute blocks until Judge0 has judged the program (wait=true).
func (p *Judge0Provider) Execute(ctx context.Context, req Request) (*Result, error) {
	id, ok := LanguageID(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}

	body := judge0Request{
		SourceCode: base64.StdEncoding.EncodeToString([]byte(req.SourceCode)),
		LanguageID: id,
	}
	if req.Stdin != "" {
		body.Stdin = base64.StdEncoding.EncodeToString([]byte(req.Stdin))
	}

	var sub judge0Submission
	if err := p.post(ctx, "/submissions?base64_encoded=true&wait=true", body, &sub); err != nil {
		return nil, err
	}
	return sub.result()
}

func (p *Judge0Provider) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("judge0: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("judge0: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("X-Auth-Token", p.token)
	}

	resp, err := p.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("judge0: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("judge0: unexpected HTTP status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("judge0: decode response: %w", err)
	}
	return nil
}

func (s *judge0Submission) result() (*Result, error) {
	if s.Status.ID == judge0InQueue || s.Status.ID == judge0Processing {
		return nil, fmt.Errorf("judge0 returned unfinished submission %s (%s)", s.Token, s.Status.Description)
	}

	res := &Result{
		Token:      s.Token,
		Success:    s.Status.ID == judge0Accepted,
		Output:     decode64(s.Stdout),
		ExitStatus: s.Status.Description,
	}

	// Compiler output wins over stderr: a failed build has no useful stderr.
	switch {
	case decode64(s.CompileOutput) != "":
		res.Error = decode64(s.CompileOutput)
	case decode64(s.Stderr) != "":
		res.Error = decode64(s.Stderr)
	case !res.Success:
		res.Error = decode64(s.Message)
	}

	if s.Time != nil {
		if secs, err := strconv.ParseFloat(*s.Time, 64); err == nil {
			res.RuntimeMs = secs * 1000
		}
	}
	if s.Memory != nil {
		res.Memory = *s.Memory
	}
	return res, nil
}

func decode64(s *string) string {
	if s == nil {
		return ""
	}
	dec, err := base64.StdEncoding.DecodeString(*s)
	if err != nil {
		return ""
	}
	return string(dec)
}
