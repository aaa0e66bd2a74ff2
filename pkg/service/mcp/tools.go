package mcp

import (
	"context"
	"regexp"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m-mizutani/ytscribe/pkg/model"
	"github.com/m-mizutani/ytscribe/pkg/repository"
	"github.com/m-mizutani/ytscribe/pkg/usecase/session"
	"github.com/m-mizutani/ytscribe/pkg/usecase/transcribe"
	"github.com/m-mizutani/ytscribe/pkg/utils/logging"
)

var youtubeURLRe = regexp.MustCompile(`^https?://(www\.)?youtube\.com/watch\?v=|^https?://youtu\.be/`)

func checkYoutubeURL(url string) error {
	if !youtubeURLRe.MatchString(url) {
		return goerr.New("please provide a valid YouTube video URL (youtube.com/watch?v=... or youtu.be/...)",
			goerr.V("url", url))
	}
	return nil
}

func sessionFromReq(req *mcp.CallToolRequest) string {
	if req == nil || req.Session == nil {
		return ""
	}
	return req.Session.ID()
}

func parseFormat(fmt string) (model.Format, error) {
	if fmt == "" {
		return model.FormatTxt, nil
	}
	format := model.Format(fmt)
	if err := format.Validate(); err != nil {
		return "", err
	}
	return format, nil
}

func (x *Server) registerTools() {
	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "youtube_transcribe",
		Description: "Fetch YouTube subtitles and return the cleaned transcript as text",
	}, x.toolTranscribe)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "youtube_transcribe_to_file",
		Description: "Transcribe a YouTube video into a session-scoped file (txt, vtt or jsonl)",
	}, x.toolTranscribeToFile)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "youtube_transcribe_auto",
		Description: "Transcribe a YouTube video, returning inline text when small enough, otherwise a session file",
	}, x.toolTranscribeAuto)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "youtube_get_duration",
		Description: "Fetch video metadata (duration, title, live state) without transcribing",
	}, x.toolGetDuration)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "list_session_items",
		Description: "List the session's tracked artifacts, optionally filtered by kind, format or pinned state",
	}, x.toolListItems)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "pin_item",
		Description: "Pin an item so it is exempt from TTL expiry and capacity eviction",
	}, x.toolPinItem)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "unpin_item",
		Description: "Unpin an item and restart its default TTL",
	}, x.toolUnpinItem)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "set_item_ttl",
		Description: "Set a fresh TTL (seconds from now) on an item, unpinning it",
	}, x.toolSetItemTTL)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "delete_item",
		Description: "Delete an item and its backing file",
	}, x.toolDeleteItem)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "write_text_file",
		Description: "Write a text file under the session's derived/ directory and register it",
	}, x.toolWriteTextFile)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "read_file_info",
		Description: "Get metadata (size, expiry, pin state) for a session file by item_id or relpath",
	}, x.toolReadFileInfo)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "read_file_chunk",
		Description: "Read a bounded chunk of a session file; page with offset until eof",
	}, x.toolReadFileChunk)

	mcp.AddTool(x.mcp, &mcp.Tool{
		Name:        "cleanup_session",
		Description: "Run a lifecycle pass over the session, pruning expired and orphaned items",
	}, x.toolCleanupSession)
}

type transcribeParams struct {
	URL string `json:"url" jsonschema:"YouTube video URL (youtube.com/watch?v=... or youtu.be/...)"`
}

func (x *Server) toolTranscribe(ctx context.Context, req *mcp.CallToolRequest, params *transcribeParams) (*mcp.CallToolResult, any, error) {
	if err := checkYoutubeURL(params.URL); err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("youtube_transcribe", "url", params.URL)
	text, err := x.deps.Transcribe.ToText(ctx, params.URL)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

type transcribeToFileParams struct {
	URL       string `json:"url" jsonschema:"YouTube video URL"`
	Format    string `json:"fmt,omitempty" jsonschema:"Output format: txt, vtt or jsonl (default txt)"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

func (x *Server) toolTranscribeToFile(ctx context.Context, req *mcp.CallToolRequest, params *transcribeToFileParams) (*mcp.CallToolResult, *itemPayload, error) {
	if err := checkYoutubeURL(params.URL); err != nil {
		return nil, nil, err
	}
	format, err := parseFormat(params.Format)
	if err != nil {
		return nil, nil, err
	}
	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("youtube_transcribe_to_file", "session_id", sid, "url", params.URL, "fmt", format)
	item, err := x.deps.Transcribe.ToFile(ctx, params.URL, format, sid)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}
	return nil, toItemPayload(item, sid), nil
}

type transcribeAutoParams struct {
	URL          string `json:"url" jsonschema:"YouTube video URL"`
	Format       string `json:"fmt,omitempty" jsonschema:"File format when falling back to file output (default txt)"`
	MaxTextBytes int    `json:"max_text_bytes,omitempty" jsonschema:"Inline text threshold in bytes; larger transcripts go to a file"`
	SessionID    string `json:"session_id,omitempty" jsonschema:"Session ID; required only for file output"`
}

type transcribeAutoResult struct {
	Kind           string       `json:"kind"`
	Bytes          int          `json:"bytes"`
	Text           string       `json:"text,omitempty"`
	Item           *itemPayload `json:"item,omitempty"`
	Duration       *float64     `json:"duration"`
	DurationString *string      `json:"duration_string"`
	Title          *string      `json:"title"`
	IsLive         *bool        `json:"is_live"`
}

func (x *Server) toolTranscribeAuto(ctx context.Context, req *mcp.CallToolRequest, params *transcribeAutoParams) (*mcp.CallToolResult, *transcribeAutoResult, error) {
	if err := checkYoutubeURL(params.URL); err != nil {
		return nil, nil, err
	}
	format, err := parseFormat(params.Format)
	if err != nil {
		return nil, nil, err
	}
	maxBytes := params.MaxTextBytes
	if maxBytes == 0 {
		maxBytes = x.deps.Config.AutoTextMaxBytes
	}
	if maxBytes <= 0 {
		maxBytes = defaultAutoTextMaxBytes
	}

	// Session is optional here: only the file fallback needs one.
	var sid model.SessionID
	if resolved, err := x.resolveSession(params.SessionID, sessionFromReq(req)); err == nil {
		sid = resolved
	} else if params.SessionID != "" {
		return nil, nil, err
	}

	logging.From(ctx).Info("youtube_transcribe_auto",
		"session_id", sid, "url", params.URL, "fmt", format, "max_text_bytes", maxBytes)

	result, err := x.deps.Transcribe.Auto(ctx, params.URL, format, maxBytes, sid)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}

	out := &transcribeAutoResult{
		Kind:           string(result.Kind),
		Bytes:          result.Bytes,
		Duration:       result.Info.Duration,
		DurationString: result.Info.DurationString,
		Title:          result.Info.Title,
		IsLive:         result.Info.IsLive,
	}
	if result.Kind == transcribe.ResultText {
		out.Text = result.Text
	} else {
		out.Item = toItemPayload(result.Item, sid)
	}
	return nil, out, nil
}

type getDurationResult struct {
	Duration       *float64 `json:"duration"`
	DurationString *string  `json:"duration_string"`
	Title          *string  `json:"title"`
	IsLive         *bool    `json:"is_live"`
}

func (x *Server) toolGetDuration(ctx context.Context, req *mcp.CallToolRequest, params *transcribeParams) (*mcp.CallToolResult, *getDurationResult, error) {
	if err := checkYoutubeURL(params.URL); err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("youtube_get_duration", "url", params.URL)
	info, err := x.deps.Info.GetInfo(ctx, params.URL)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}
	return nil, &getDurationResult{
		Duration:       info.Duration,
		DurationString: info.DurationString,
		Title:          info.Title,
		IsLive:         info.IsLive,
	}, nil
}

type listItemsParams struct {
	Kind      string `json:"kind,omitempty" jsonschema:"Filter by kind: transcript or derived"`
	Format    string `json:"format,omitempty" jsonschema:"Filter by format: txt, vtt or jsonl"`
	Pinned    *bool  `json:"pinned,omitempty" jsonschema:"Filter by pinned state"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

type listItemsResult struct {
	SessionID string         `json:"session_id"`
	Items     []*itemPayload `json:"items"`
}

func (x *Server) toolListItems(ctx context.Context, req *mcp.CallToolRequest, params *listItemsParams) (*mcp.CallToolResult, *listItemsResult, error) {
	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, nil, err
	}

	filter := &repository.Filter{}
	if params.Kind != "" {
		kind := model.ItemKind(params.Kind)
		if err := kind.Validate(); err != nil {
			return nil, nil, err
		}
		filter.Kind = &kind
	}
	if params.Format != "" {
		format := model.Format(params.Format)
		if err := format.Validate(); err != nil {
			return nil, nil, err
		}
		filter.Format = &format
	}
	filter.Pinned = params.Pinned

	logging.From(ctx).Info("list_session_items", "session_id", sid)
	items, err := x.deps.Session.ListItems(ctx, sid, filter)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}

	result := &listItemsResult{SessionID: sid.String(), Items: make([]*itemPayload, 0, len(items))}
	for _, item := range items {
		result.Items = append(result.Items, toItemPayload(item, sid))
	}
	return nil, result, nil
}

type itemParams struct {
	ItemID    string `json:"item_id" jsonschema:"Manifest item ID"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

func (x *Server) itemMutation(ctx context.Context, req *mcp.CallToolRequest, params *itemParams,
	op func(context.Context, model.SessionID, model.ItemID) (*model.ManifestItem, error)) (*itemPayload, error) {

	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, err
	}
	itemID, err := model.NewItemID(params.ItemID)
	if err != nil {
		return nil, err
	}

	item, err := op(ctx, sid, itemID)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return toItemPayload(item, sid), nil
}

func (x *Server) toolPinItem(ctx context.Context, req *mcp.CallToolRequest, params *itemParams) (*mcp.CallToolResult, *itemPayload, error) {
	logging.From(ctx).Info("pin_item", "item_id", params.ItemID)
	payload, err := x.itemMutation(ctx, req, params, x.deps.Session.Pin)
	return nil, payload, err
}

func (x *Server) toolUnpinItem(ctx context.Context, req *mcp.CallToolRequest, params *itemParams) (*mcp.CallToolResult, *itemPayload, error) {
	logging.From(ctx).Info("unpin_item", "item_id", params.ItemID)
	payload, err := x.itemMutation(ctx, req, params, x.deps.Session.Unpin)
	return nil, payload, err
}

type setTTLParams struct {
	ItemID     string `json:"item_id" jsonschema:"Manifest item ID"`
	TTLSeconds int64  `json:"ttl_seconds" jsonschema:"New TTL in seconds from now (>= 1)"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

func (x *Server) toolSetItemTTL(ctx context.Context, req *mcp.CallToolRequest, params *setTTLParams) (*mcp.CallToolResult, *itemPayload, error) {
	logging.From(ctx).Info("set_item_ttl", "item_id", params.ItemID, "ttl_seconds", params.TTLSeconds)
	payload, err := x.itemMutation(ctx, req, &itemParams{ItemID: params.ItemID, SessionID: params.SessionID},
		func(ctx context.Context, sid model.SessionID, itemID model.ItemID) (*model.ManifestItem, error) {
			return x.deps.Session.SetTTL(ctx, sid, itemID, time.Duration(params.TTLSeconds)*time.Second)
		})
	return nil, payload, err
}

type deleteItemResult struct {
	ItemID  string `json:"item_id"`
	Deleted bool   `json:"deleted"`
}

func (x *Server) toolDeleteItem(ctx context.Context, req *mcp.CallToolRequest, params *itemParams) (*mcp.CallToolResult, *deleteItemResult, error) {
	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, nil, err
	}
	itemID, err := model.NewItemID(params.ItemID)
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("delete_item", "session_id", sid, "item_id", itemID)
	if err := x.deps.Session.Delete(ctx, sid, itemID); err != nil {
		return nil, nil, mapError(ctx, err)
	}
	return nil, &deleteItemResult{ItemID: itemID.String(), Deleted: true}, nil
}

type writeTextFileParams struct {
	Relpath   string `json:"relpath" jsonschema:"Path relative to the session's derived/ directory"`
	Content   string `json:"content" jsonschema:"Text content to write"`
	Overwrite bool   `json:"overwrite,omitempty" jsonschema:"Replace an existing file"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

func (x *Server) toolWriteTextFile(ctx context.Context, req *mcp.CallToolRequest, params *writeTextFileParams) (*mcp.CallToolResult, *itemPayload, error) {
	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("write_text_file", "session_id", sid, "relpath", params.Relpath)
	item, err := x.deps.Session.WriteTextFile(ctx, sid, params.Relpath, params.Content, params.Overwrite)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}
	return nil, toItemPayload(item, sid), nil
}

type fileRefParams struct {
	ItemID    string `json:"item_id,omitempty" jsonschema:"Manifest item ID"`
	Relpath   string `json:"relpath,omitempty" jsonschema:"Path relative to the session root"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

func (x *Server) fileRef(params *fileRefParams) (*session.FileRef, error) {
	ref := &session.FileRef{Relpath: params.Relpath}
	if params.ItemID != "" {
		itemID, err := model.NewItemID(params.ItemID)
		if err != nil {
			return nil, err
		}
		ref.ItemID = itemID
	}
	return ref, nil
}

type fileInfoResult struct {
	ID        string  `json:"id,omitempty"`
	SessionID string  `json:"session_id"`
	Relpath   string  `json:"relpath"`
	Size      int64   `json:"size"`
	Pinned    *bool   `json:"pinned,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
	Format    *string `json:"format,omitempty"`
	Kind      *string `json:"kind,omitempty"`
}

func (x *Server) toolReadFileInfo(ctx context.Context, req *mcp.CallToolRequest, params *fileRefParams) (*mcp.CallToolResult, *fileInfoResult, error) {
	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, nil, err
	}
	ref, err := x.fileRef(params)
	if err != nil {
		return nil, nil, err
	}

	logging.From(ctx).Info("read_file_info", "session_id", sid, "item_id", params.ItemID, "relpath", params.Relpath)
	info, err := x.deps.Session.ReadFileInfo(ctx, sid, ref)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}

	result := &fileInfoResult{
		ID:        info.ItemID.String(),
		SessionID: sid.String(),
		Relpath:   info.Relpath,
		Size:      info.Size,
		Pinned:    info.Pinned,
		ExpiresAt: info.ExpiresAt,
	}
	if info.Format != nil {
		format := string(*info.Format)
		result.Format = &format
	}
	if info.Kind != nil {
		kind := string(*info.Kind)
		result.Kind = &kind
	}
	return nil, result, nil
}

type readChunkParams struct {
	ItemID    string `json:"item_id,omitempty" jsonschema:"Manifest item ID"`
	Relpath   string `json:"relpath,omitempty" jsonschema:"Path relative to the session root"`
	Offset    int64  `json:"offset,omitempty" jsonschema:"Byte offset to read from"`
	MaxBytes  int64  `json:"max_bytes,omitempty" jsonschema:"Bytes to read, 1-200000 (default 200000)"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

type readChunkResult struct {
	Data       string `json:"data"`
	NextOffset int64  `json:"next_offset"`
	EOF        bool   `json:"eof"`
	Size       int64  `json:"size"`
	ID         string `json:"id,omitempty"`
}

func (x *Server) toolReadFileChunk(ctx context.Context, req *mcp.CallToolRequest, params *readChunkParams) (*mcp.CallToolResult, *readChunkResult, error) {
	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, nil, err
	}
	ref, err := x.fileRef(&fileRefParams{ItemID: params.ItemID, Relpath: params.Relpath})
	if err != nil {
		return nil, nil, err
	}

	chunk, err := x.deps.Session.ReadFileChunk(ctx, sid, ref, params.Offset, params.MaxBytes)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}
	return nil, &readChunkResult{
		Data:       chunk.Data,
		NextOffset: chunk.NextOffset,
		EOF:        chunk.EOF,
		Size:       chunk.Size,
		ID:         chunk.ItemID.String(),
	}, nil
}

type cleanupParams struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID; defaults to the MCP session"`
}

type cleanupResult struct {
	SessionID string `json:"session_id"`
	Removed   int    `json:"removed"`
}

func (x *Server) toolCleanupSession(ctx context.Context, req *mcp.CallToolRequest, params *cleanupParams) (*mcp.CallToolResult, *cleanupResult, error) {
	sid, err := x.resolveSession(params.SessionID, sessionFromReq(req))
	if err != nil {
		return nil, nil, err
	}

	removed, err := x.deps.Session.CleanupSession(ctx, sid)
	if err != nil {
		return nil, nil, mapError(ctx, err)
	}
	logging.From(ctx).Info("cleanup_session", "session_id", sid, "removed", removed)
	return nil, &cleanupResult{SessionID: sid.String(), Removed: removed}, nil
}
