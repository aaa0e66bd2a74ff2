package transcribe

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ytscribe/pkg/model"
)

// writeTranscript renders the transcript in the requested format to
// base+"."+ext and returns the written path.
func writeTranscript(base string, format model.Format, transcript, vtt string) (string, error) {
	var out string
	var data []byte

	switch format {
	case model.FormatTxt:
		out = base + ".txt"
		data = []byte(transcript + "\n")
	case model.FormatVTT:
		out = base + ".vtt"
		data = []byte(vtt)
	case model.FormatJSONL:
		out = base + ".jsonl"
		var buf bytes.Buffer
		for _, line := range strings.Split(transcript, "\n") {
			record, err := json.Marshal(map[string]string{"text": line})
			if err != nil {
				return "", goerr.Wrap(err, "failed to encode transcript line")
			}
			buf.Write(record)
			buf.WriteByte('\n')
		}
		data = buf.Bytes()
	default:
		return "", goerr.New("fmt must be one of: txt, vtt, jsonl", goerr.V("format", format))
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return "", goerr.Wrap(err, "failed to write transcript", goerr.V("path", out))
	}
	return out, nil
}
