package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/m-mizutani/ytscribe/pkg/model"
)

// promptSpec is one reusable transcript task exposed as an MCP prompt.
type promptSpec struct {
	name        string
	description string
	task        string
	extraArgs   []*mcp.PromptArgument
}

var promptSpecs = []*promptSpec{
	{
		name:        "transcript_paragraphs",
		description: "Reformat a transcript into readable paragraphs",
		task: "Reformat the transcript into well-structured paragraphs. Preserve speaker turns if present, " +
			"remove stutters/obvious filler where it improves readability, and keep the original meaning.",
	},
	{
		name:        "transcript_summary",
		description: "Summarize a transcript",
		task: "Summarize the transcript with:\n" +
			"1) A one-paragraph executive summary.\n" +
			"2) 5-8 bullet key points.\n" +
			"Keep it concise and faithful to the source.",
	},
	{
		name:        "transcript_translate",
		description: "Translate a transcript to a target language",
		task: "Translate the transcript to %s. Preserve proper nouns and technical terms. " +
			"Keep formatting clean and readable.",
		extraArgs: []*mcp.PromptArgument{
			{Name: "target_lang", Description: "Target language for the translation", Required: true},
		},
	},
	{
		name:        "transcript_outline",
		description: "Build an outline of a transcript",
		task: "Create a structured outline or table of contents for the transcript. " +
			"Use short section headings and group related content.",
	},
	{
		name:        "transcript_quotes",
		description: "Extract quotable lines from a transcript",
		task: "Extract 5-10 quotable lines from the transcript. " +
			"Each quote should be meaningful and stand alone.",
	},
	{
		name:        "transcript_faq",
		description: "Turn a transcript into an FAQ",
		task:        "Create a concise FAQ based on the transcript content. Provide short Q/A pairs.",
	},
	{
		name:        "transcript_glossary",
		description: "Extract a glossary of key terms from a transcript",
		task:        "Extract key terms and provide a short glossary (term + 1-2 sentence definition).",
	},
	{
		name:        "transcript_action_items",
		description: "List action items implied by a transcript",
		task:        "List action items or next steps implied by the transcript. Use clear, actionable phrasing.",
	},
}

func (x *Server) registerPrompts() {
	for _, spec := range promptSpecs {
		args := []*mcp.PromptArgument{
			{Name: "item_id", Description: "Manifest item ID of the transcript", Required: true},
			{Name: "session_id", Description: "Session ID; defaults to the MCP session"},
		}
		args = append(args, spec.extraArgs...)

		spec := spec
		x.mcp.AddPrompt(&mcp.Prompt{
			Name:        spec.name,
			Description: spec.description,
			Arguments:   args,
		}, func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return x.buildPrompt(ctx, req, spec)
		})
	}
}

func (x *Server) buildPrompt(ctx context.Context, req *mcp.GetPromptRequest, spec *promptSpec) (*mcp.GetPromptResult, error) {
	itemID, err := model.NewItemID(req.Params.Arguments["item_id"])
	if err != nil {
		return nil, err
	}

	sidValue := "YOUR_SESSION_ID"
	mcpSession := ""
	if req.Session != nil {
		mcpSession = req.Session.ID()
	}
	if sid, err := x.resolveSession(req.Params.Arguments["session_id"], mcpSession); err == nil {
		sidValue = sid.String()
	} else if req.Params.Arguments["session_id"] != "" {
		return nil, err
	}

	inputs := map[string]string{"item_id": itemID.String()}
	if sidValue != "YOUR_SESSION_ID" {
		inputs["session_id"] = sidValue
	}

	task := spec.task
	if spec.name == "transcript_translate" {
		targetLang := req.Params.Arguments["target_lang"]
		if targetLang == "" {
			return nil, goerr.New("target_lang is required")
		}
		task = fmt.Sprintf(spec.task, targetLang)
		inputs["target_lang"] = targetLang
	}

	steps := []string{
		fmt.Sprintf("Call transcripts://session/%s/item/%s to get metadata and inline content.", sidValue, itemID),
		fmt.Sprintf("If content is missing or truncated, call read_file_chunk(item_id=%q, session_id=%q, "+
			"offset=0, max_bytes=200000) until eof.", itemID, sidValue),
		"Complete the task and output only the result.",
		fmt.Sprintf("If you need this transcript later, call pin_item(item_id=%q).", itemID),
	}

	payload, err := json.Marshal(map[string]any{
		"name":              spec.name,
		"inputs":            inputs,
		"prompt":            task,
		"recommended_steps": steps,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode prompt payload", goerr.V("prompt", spec.name))
	}

	return &mcp.GetPromptResult{
		Description: spec.description,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: string(payload)}},
		},
	}, nil
}
