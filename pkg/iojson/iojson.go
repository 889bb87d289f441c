// Package iojson reads and writes the JSON that CLI commands exchange with
// scripts: pretty documents, line-delimited streams and piped input.
package iojson

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteWith writes obj to w as indented JSON. A value that cannot be
// encoded is reported to ew as a JSON error object instead.
func WriteWith(w io.Writer, ew io.Writer, obj any) error {
	bits, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		_, werr := fmt.Fprintln(ew, encodeFailure(err))
		if werr != nil {
			return werr
		}
		return fmt.Errorf("marshal output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(bits))
	return err
}

// WriteLine writes obj to w as a single line of JSON, for streams consumed
// line by line.
func WriteLine(w io.Writer, obj any) error {
	bits, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal line: %w", err)
	}
	bits = append(bits, '\n')
	_, err = w.Write(bits)
	return err
}

func encodeFailure(err error) string {
	msg, _ := json.Marshal(err.Error())
	return fmt.Sprintf(`{"message":"cannot encode output","data":{"json_error":%s}}`, msg)
}
