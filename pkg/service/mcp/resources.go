package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/usecase/session"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

const resourceScheme = "transcripts://session/"

func (x *Server) registerResources() {
	x.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "{session_id}/index",
		Name:        "session_index",
		Description: "Manifest of all tracked artifacts in the session, refreshed by a cleanup pass",
		MIMEType:    "application/json",
	}, x.resourceIndex)

	x.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "{session_id}/latest",
		Name:        "latest_transcript",
		Description: "The most recently created transcript item in the session",
		MIMEType:    "application/json",
	}, x.resourceLatest)

	x.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "{session_id}/item/{item_id}",
		Name:        "session_item",
		Description: "A single item with inline content when it fits the inline byte limit",
		MIMEType:    "application/json",
	}, x.resourceItem)
}

// splitResourceURI breaks transcripts://session/<sid>/<rest> into its parts.
func splitResourceURI(uri string) (model.SessionID, string, error) {
	rest, ok := strings.CutPrefix(uri, resourceScheme)
	if !ok {
		return "", "", goerr.New("unsupported resource URI", goerr.V("uri", uri))
	}
	rawSID, path, ok := strings.Cut(rest, "/")
	if !ok {
		return "", "", goerr.New("resource URI is missing a path after the session ID", goerr.V("uri", uri))
	}
	sid, err := model.NewSessionID(rawSID)
	if err != nil {
		return "", "", err
	}
	return sid, path, nil
}

func jsonResource(uri string, payload any) (*mcp.ReadResourceResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode resource payload", goerr.V("uri", uri))
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(raw)},
		},
	}, nil
}

func (x *Server) resourceIndex(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	sid, path, err := splitResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if path != "index" {
		return nil, goerr.New("unsupported resource URI", goerr.V("uri", req.Params.URI))
	}

	logging.From(ctx).Info("read resource", "uri", req.Params.URI)
	if _, err := x.deps.Session.CleanupSession(ctx, sid); err != nil {
		return nil, mapError(ctx, err)
	}
	manifest, err := x.deps.Repo.Load(ctx, sid)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return jsonResource(req.Params.URI, manifest)
}

func (x *Server) resourceLatest(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	sid, path, err := splitResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	if path != "latest" {
		return nil, goerr.New("unsupported resource URI", goerr.V("uri", req.Params.URI))
	}

	logging.From(ctx).Info("read resource", "uri", req.Params.URI)
	if _, err := x.deps.Session.CleanupSession(ctx, sid); err != nil {
		return nil, mapError(ctx, err)
	}
	manifest, err := x.deps.Repo.Load(ctx, sid)
	if err != nil {
		return nil, mapError(ctx, err)
	}

	var latest *model.ManifestItem
	for _, item := range manifest.Items {
		if item.Kind != model.KindTranscript {
			continue
		}
		if latest == nil || item.CreatedAt > latest.CreatedAt ||
			(item.CreatedAt == latest.CreatedAt && item.ID > latest.ID) {
			latest = item
		}
	}
	if latest == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "no transcript items in session", goerr.V("session_id", sid))
	}

	return jsonResource(req.Params.URI, map[string]any{
		"session_id": sid,
		"item":       toItemPayload(latest, sid),
	})
}

func (x *Server) resourceItem(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	sid, path, err := splitResourceURI(req.Params.URI)
	if err != nil {
		return nil, err
	}
	rawItemID, ok := strings.CutPrefix(path, "item/")
	if !ok {
		return nil, goerr.New("unsupported resource URI", goerr.V("uri", req.Params.URI))
	}
	itemID, err := model.NewItemID(rawItemID)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("read resource", "uri", req.Params.URI)
	info, err := x.deps.Session.ReadFileInfo(ctx, sid, &session.FileRef{ItemID: itemID})
	if err != nil {
		return nil, mapError(ctx, err)
	}

	inlineMax := x.deps.Config.InlineMaxBytes
	if inlineMax <= 0 {
		inlineMax = defaultInlineMaxBytes
	}
	maxBytes := inlineMax
	if maxBytes > session.MaxChunkBytes {
		maxBytes = session.MaxChunkBytes
	}
	chunk, err := x.deps.Session.ReadFileChunk(ctx, sid, &session.FileRef{ItemID: itemID}, 0, maxBytes)
	if err != nil {
		return nil, mapError(ctx, err)
	}

	manifest, err := x.deps.Repo.Load(ctx, sid)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	item := findManifestItem(manifest.Items, itemID)
	if item == nil {
		return nil, goerr.Wrap(model.ErrNotFound, "item not found",
			goerr.V("session_id", sid), goerr.V("item_id", itemID))
	}

	return jsonResource(req.Params.URI, map[string]any{
		"session_id":       sid,
		"item":             toItemPayload(item, sid),
		"content":          chunk.Data,
		"truncated":        info.Size > maxBytes,
		"inline_max_bytes": inlineMax,
	})
}

func findManifestItem(items []*model.ManifestItem, itemID model.ItemID) *model.ManifestItem {
	for _, item := range items {
		if item.ID == itemID {
			return item
		}
	}
	return nil
}
