package bunstore

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/zathomas/sparsemapcontent/internal/storage"
)

// Rows are stored with Core Deterministic Encoding so identical field maps
// always produce identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bunstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Field maps always have string keys.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("bunstore: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeRow(row storage.Row) ([]byte, error) {
	return encMode.Marshal(map[string]any(row))
}

func decodeRow(data []byte) (storage.Row, error) {
	var fields map[string]any
	if err := decMode.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	row := make(storage.Row, len(fields))
	for k, v := range fields {
		row[k] = normalize(v)
	}
	return row, nil
}

// normalize restores []string, which CBOR hands back as []any.
func normalize(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return v
		}
		out = append(out, s)
	}
	return out
}
