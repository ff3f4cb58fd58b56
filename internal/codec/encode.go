package codec

import (
	"fmt"

	"github.com/roach88/folio/internal/ir"
)

// Encode converts typed fields to their wire form. Nil values and empty
// lists are omitted. Encode is the inverse of Decode.
func Encode(fields ir.Fields) ir.Object {
	out := make(ir.Object, len(fields))
	for name, v := range fields {
		if w := EncodeValue(v); w != nil {
			out[name] = w
		}
	}
	return out
}

// EntityDocument is the JSON form of an entity including its fields.
type EntityDocument struct {
	ir.Entity
	Fields ir.Object `json:"fields"`
}

// PublishedDocument is the JSON form of a published entity including its
// fields.
type PublishedDocument struct {
	ir.PublishedEntity
	Fields ir.Object `json:"fields"`
}

// EncodeEntity renders e with its fields in wire form.
func EncodeEntity(e ir.Entity) EntityDocument {
	return EntityDocument{Entity: e, Fields: Encode(e.Fields)}
}

// EncodePublished renders e with its fields in wire form.
func EncodePublished(e ir.PublishedEntity) PublishedDocument {
	return PublishedDocument{PublishedEntity: e, Fields: Encode(e.Fields)}
}

// EncodeValue converts a single field value to its wire form, or nil when
// the value is absent.
func EncodeValue(v ir.FieldValue) ir.Value {
	switch val := v.(type) {
	case nil:
		return nil
	case ir.StringValue:
		return ir.String(val)
	case ir.NumberValue:
		return ir.NumberValueOf(float64(val))
	case ir.BooleanValue:
		return ir.Bool(val)
	case ir.LocationValue:
		return ir.Object{
			"lat": ir.NumberValueOf(val.Lat),
			"lng": ir.NumberValueOf(val.Lng),
		}
	case ir.ReferenceValue:
		return ir.Object{"id": ir.String(val.ID)}
	case ir.ComponentValue:
		return encodeComponent(val)
	case ir.RichTextValue:
		return ir.Object{"root": encodeRichTextNode(val.Root)}
	case ir.ListValue:
		items := make(ir.Array, 0, len(val))
		for _, item := range val {
			if w := EncodeValue(item); w != nil {
				items = append(items, w)
			}
		}
		if len(items) == 0 {
			return nil
		}
		return items
	default:
		panic(fmt.Sprintf("codec: unhandled field value %T", v))
	}
}

func encodeComponent(c ir.ComponentValue) ir.Object {
	obj := Encode(c.Fields)
	obj["type"] = ir.String(c.Type)
	return obj
}

func encodeRichTextNode(n ir.RichTextNode) ir.Object {
	obj := n.Attrs.Clone()
	if obj == nil {
		obj = ir.Object{}
	}
	obj["type"] = ir.String(n.Type)
	if n.Children != nil {
		children := make(ir.Array, len(n.Children))
		for i, child := range n.Children {
			children[i] = encodeRichTextNode(child)
		}
		obj["children"] = children
	}
	if n.Component != nil {
		obj["data"] = encodeComponent(*n.Component)
	}
	if n.Reference != nil {
		obj["reference"] = ir.Object{"id": ir.String(n.Reference.ID)}
	}
	return obj
}
