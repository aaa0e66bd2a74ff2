package mcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/repository"
	"github.com/m-mizutani/ytscribe/pkg/usecase/session"
	"github.com/m-mizutani/ytscribe/pkg/usecase/transcribe"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

const serverName = "ytscribe"
const serverVersion = "0.1.0"

// Fallback limits used when the server is constructed without explicit ones.
const (
	defaultInlineMaxBytes   = 20_000
	defaultAutoTextMaxBytes = 200_000
)

const instructions = "Fetches YouTube subtitles via yt-dlp and returns cleaned transcripts. " +
	"Use youtube_get_duration for metadata, youtube_transcribe_auto to choose text vs file " +
	"output, or youtube_transcribe_to_file for file output and read_file_chunk/read_file_info " +
	"to page. Storage is session-scoped; resources are available at " +
	"transcripts://session/{session_id}/* and prompts as transcript_*."

// Config holds the transport-level settings of the MCP server.
type Config struct {
	DefaultSessionID string
	AutoTextMaxBytes int
	InlineMaxBytes   int64
}

// Deps is the explicit dependency set of the server, constructed once per
// process by the CLI and passed to every handler.
type Deps struct {
	Config     Config
	Transcribe *transcribe.UseCase
	Session    *session.UseCase
	Repo       repository.Repository
	Info       transcribe.Transcriber
}

// Server exposes the transcription and session artifact operations over MCP.
type Server struct {
	deps Deps
	mcp  *mcp.Server
}

// New builds the MCP server and registers all tools, resources and prompts.
func New(deps Deps) *Server {
	srv := &Server{
		deps: deps,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}, &mcp.ServerOptions{
			Instructions: instructions,
		}),
	}

	srv.registerTools()
	srv.registerResources()
	srv.registerPrompts()
	return srv
}

// RunStdio serves MCP over stdin/stdout until the context is cancelled.
func (x *Server) RunStdio(ctx context.Context) error {
	logging.From(ctx).Info("starting MCP server", "transport", "stdio")
	if err := x.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "MCP stdio server failed")
	}
	return nil
}

// RunHTTP serves MCP over streamable HTTP on addr.
func (x *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return x.mcp
	}, nil)

	logging.From(ctx).Info("starting MCP server", "transport", "http", "addr", addr)

	server := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return goerr.Wrap(err, "MCP HTTP server failed", goerr.V("addr", addr))
	}
	return nil
}

// resolveSession picks the effective session ID: an explicit argument wins,
// then the MCP transport session, then the configured default.
func (x *Server) resolveSession(explicit string, mcpSession string) (model.SessionID, error) {
	for _, candidate := range []string{explicit, mcpSession, x.deps.Config.DefaultSessionID} {
		if candidate == "" {
			continue
		}
		sid, err := model.NewSessionID(candidate)
		if err != nil {
			if candidate == explicit {
				return "", err
			}
			continue // transport session IDs may use a wider charset
		}
		return sid, nil
	}
	return "", goerr.New("session_id is required (pass session_id or set mcp-session-id header)")
}

// mapError logs the failure and returns what the MCP client should see.
// External command detail stays in the server log.
func mapError(ctx context.Context, err error) error {
	logger := logging.From(ctx)
	switch {
	case errors.Is(err, model.ErrExternalCommand):
		logger.Error("external command failed", "error", err)
		return goerr.New("external command failed; check server logs for details")
	case errors.Is(err, model.ErrInvalidID), errors.Is(err, model.ErrPathViolation),
		errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrAlreadyExists):
		logger.Warn("request rejected", "error", err)
		return err
	default:
		logger.Error("operation failed", "error", err)
		return err
	}
}

// itemPayload is the wire shape of a manifest item in tool results.
type itemPayload struct {
	ID        model.ItemID   `json:"id"`
	Kind      model.ItemKind `json:"kind"`
	Format    model.Format   `json:"format"`
	Relpath   string         `json:"relpath"`
	Size      int64          `json:"size"`
	CreatedAt string         `json:"created_at"`
	ExpiresAt *string        `json:"expires_at"`
	Pinned    bool           `json:"pinned"`
	SessionID string         `json:"session_id"`
}

func toItemPayload(item *model.ManifestItem, sid model.SessionID) *itemPayload {
	return &itemPayload{
		ID:        item.ID,
		Kind:      item.Kind,
		Format:    item.Format,
		Relpath:   item.Relpath,
		Size:      item.Size,
		CreatedAt: item.CreatedAt,
		ExpiresAt: item.ExpiresAt,
		Pinned:    item.Pinned,
		SessionID: sid.String(),
	}
}
