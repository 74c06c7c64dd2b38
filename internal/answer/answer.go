// Package answer runs the retrieval-augmented question answering pipeline:
// resolve the model, load conversation history, retrieve relevant chunks,
// prompt the generator, and persist the exchange.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/docquery/docquery/internal/llm"
	"github.com/docquery/docquery/internal/log"
	"github.com/docquery/docquery/internal/session"
	"github.com/docquery/docquery/internal/vecindex"
)

// NotFoundAnswer is returned when the documentation has nothing relevant.
const NotFoundAnswer = "I couldn't find any relevant information in the documentation to answer your question."

// snippetMaxLen bounds the source snippets surfaced to clients.
const snippetMaxLen = 200

// Request is one question against the documentation.
type Request struct {
	Question  string
	SessionID string // empty mints a new session
	Model     string // selector; empty uses the registry default
}

// Response is the answered question.
type Response struct {
	Answer    string
	Sources   []session.Source
	SessionID string // effective session, possibly newly minted
	Model     string // resolved provider model identifier
}

// Config tunes retrieval and history bounds.
type Config struct {
	TopK               int
	RelevanceFloor     float32
	MaxHistoryMessages int
}

// Answerer answers questions over the indexed documentation.
type Answerer struct {
	embedder ai.Embedder
	index    vecindex.Index
	sessions *session.Store
	registry *llm.Registry
	cfg      Config
	logger   log.Logger
}

// New creates an Answerer.
func New(embedder ai.Embedder, index vecindex.Index, sessions *session.Store, registry *llm.Registry, cfg Config, logger log.Logger) *Answerer {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Answerer{
		embedder: embedder,
		index:    index,
		sessions: sessions,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Answer runs the full pipeline. An unknown model selector fails before any
// session or provider work. When retrieval comes back empty the fixed
// not-found answer is returned without calling the model at all.
func (a *Answerer) Answer(ctx context.Context, req Request) (Response, error) {
	gen, err := a.registry.Resolve(req.Model)
	if err != nil {
		return Response{}, err
	}

	sessionID, history, err := a.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return Response{}, fmt.Errorf("resolving session: %w", err)
	}

	matches, err := a.retrieve(ctx, req.Question)
	if err != nil {
		return Response{}, err
	}

	resp := Response{SessionID: sessionID, Model: gen.Name()}
	if len(matches) == 0 {
		resp.Answer = NotFoundAnswer
	} else {
		answer, sources, err := a.generate(ctx, gen, req.Question, history, matches)
		if err != nil {
			return Response{}, err
		}
		resp.Answer = answer
		resp.Sources = sources
	}

	if err := a.record(ctx, sessionID, req.Question, resp); err != nil {
		return Response{}, err
	}

	a.logger.Info("answered question",
		"session_id", sessionID,
		"model", gen.Name(),
		"retrieved", len(matches),
		"sources", len(resp.Sources))
	return resp, nil
}

// retrieve embeds the question and queries the index.
func (a *Answerer) retrieve(ctx context.Context, question string) ([]vecindex.Match, error) {
	embResp, err := a.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(question, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(embResp.Embeddings) == 0 || len(embResp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding question: empty embedding returned")
	}

	matches, err := a.index.Query(ctx, embResp.Embeddings[0].Embedding, a.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return matches, nil
}

// generate prompts the model and grounds its answer in the retrieved chunks.
func (a *Answerer) generate(ctx context.Context, gen llm.Generator, question string, history []session.Turn, matches []vecindex.Match) (string, []session.Source, error) {
	prompt := buildPrompt(question, history, matches, a.cfg.MaxHistoryMessages)

	text, err := gen.Generate(ctx, prompt)
	if err != nil {
		return "", nil, err
	}

	cited := extractCitations(text, len(matches))

	// An answer with no citation markers against uniformly weak retrieval
	// is treated as ungrounded.
	var maxSim float32
	for _, m := range matches {
		if m.Similarity > maxSim {
			maxSim = m.Similarity
		}
	}
	if maxSim < a.cfg.RelevanceFloor && len(cited) == 0 {
		return NotFoundAnswer, nil, nil
	}

	// Cited chunks in first-mention order; an uncited answer keeps the full
	// retrieved set so the client can still show provenance.
	picked := matches
	if len(cited) > 0 {
		picked = make([]vecindex.Match, 0, len(cited))
		for _, i := range cited {
			picked = append(picked, matches[i-1])
		}
	}

	sources := make([]session.Source, 0, len(picked))
	for _, m := range picked {
		sources = append(sources, session.Source{
			DocPath: m.DocPath,
			Title:   m.Title,
			Snippet: snippet(m.Text),
			Score:   m.Similarity,
			URL:     docURL(m.DocPath),
		})
	}
	return text, sources, nil
}

// record persists the question and answer as two turns.
func (a *Answerer) record(ctx context.Context, sessionID, question string, resp Response) error {
	if err := a.sessions.Append(ctx, sessionID, session.Turn{
		Role:    session.RoleUser,
		Content: question,
	}); err != nil {
		return fmt.Errorf("recording question: %w", err)
	}
	if err := a.sessions.Append(ctx, sessionID, session.Turn{
		Role:    session.RoleAssistant,
		Content: resp.Answer,
		Sources: resp.Sources,
	}); err != nil {
		return fmt.Errorf("recording answer: %w", err)
	}
	return nil
}

// snippet truncates chunk text for client display.
func snippet(text string) string {
	if len(text) <= snippetMaxLen {
		return text
	}
	return strings.TrimSpace(text[:snippetMaxLen]) + "..."
}

// docURL derives a site-relative link from a document path:
// "guides/setup.md" links as "../guides/setup/".
func docURL(docPath string) string {
	return "../" + strings.TrimSuffix(docPath, ".md") + "/"
}
