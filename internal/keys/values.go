package keys

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	cerrors "github.com/arkilian/catalog/internal/errors"
	"github.com/arkilian/catalog/pkg/types"
)

// Envelope formats.
const (
	formatJSON       byte = 1
	formatSnappyJSON byte = 2

	headerSize = 5

	// compressThreshold is the JSON body size above which values are compressed.
	compressThreshold = 512
)

// CatalogValue marks a catalog as existing. It carries no payload.
type CatalogValue struct{}

// SchemaValue marks a schema as existing. It carries no payload.
type SchemaValue struct{}

// TableValue is the persisted definition of a table.
type TableValue struct {
	ID   types.TableID   `json:"id"`
	Meta types.TableMeta `json:"meta"`
	Desc string          `json:"desc,omitempty"`
}

// TableValueFromInfo derives the persisted value from a live table's info.
func TableValueFromInfo(info *types.TableInfo) TableValue {
	return TableValue{
		ID:   info.Ident.TableID,
		Meta: info.Meta,
		Desc: info.Desc,
	}
}

func (v CatalogValue) Bytes() ([]byte, error) { return encodeValue(v) }

func (v SchemaValue) Bytes() ([]byte, error) { return encodeValue(v) }

func (v TableValue) Bytes() ([]byte, error) { return encodeValue(v) }

func ParseCatalogValue(raw []byte) (CatalogValue, error) {
	var v CatalogValue
	err := decodeValue(raw, &v)
	return v, err
}

func ParseSchemaValue(raw []byte) (SchemaValue, error) {
	var v SchemaValue
	err := decodeValue(raw, &v)
	return v, err
}

func ParseTableValue(raw []byte) (TableValue, error) {
	var v TableValue
	err := decodeValue(raw, &v)
	return v, err
}

// encodeValue writes [format:1][murmur3 of body:4][body].
func encodeValue(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, cerrors.SerializationFailed("failed to marshal value", err)
	}
	format := formatJSON
	if len(body) > compressThreshold {
		body = snappy.Encode(nil, body)
		format = formatSnappyJSON
	}

	out := make([]byte, headerSize+len(body))
	out[0] = format
	binary.BigEndian.PutUint32(out[1:headerSize], murmur3.Sum32(body))
	copy(out[headerSize:], body)
	return out, nil
}

func decodeValue(raw []byte, v any) error {
	if len(raw) < headerSize {
		return cerrors.SerializationFailed(fmt.Sprintf("value too short: %d bytes", len(raw)), nil)
	}
	body := raw[headerSize:]
	if want, got := binary.BigEndian.Uint32(raw[1:headerSize]), murmur3.Sum32(body); want != got {
		return cerrors.SerializationFailed(fmt.Sprintf("checksum mismatch: stored %08x, computed %08x", want, got), nil)
	}

	switch raw[0] {
	case formatJSON:
	case formatSnappyJSON:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return cerrors.SerializationFailed("failed to decompress value", err)
		}
		body = decoded
	default:
		return cerrors.SerializationFailed(fmt.Sprintf("unknown value format %d", raw[0]), nil)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return cerrors.SerializationFailed("failed to unmarshal value", err)
	}
	return nil
}
