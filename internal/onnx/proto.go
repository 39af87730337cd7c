// Package onnx writes and reads the subset of the ONNX protobuf schema
// needed to ship tree-ensemble anomaly models as portable inference graphs.
package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// TensorProto.DataType values.
const (
	DataTypeFloat int32 = 1
	DataTypeInt64 int32 = 7
	DataTypeBool  int32 = 9
)

// AttributeType is AttributeProto.AttributeType.
type AttributeType int32

// Attribute types used by this package.
const (
	AttributeFloat   AttributeType = 1
	AttributeInt     AttributeType = 2
	AttributeString  AttributeType = 3
	AttributeFloats  AttributeType = 6
	AttributeInts    AttributeType = 7
	AttributeStrings AttributeType = 8
)

// ModelProto is the top-level ONNX model.
type ModelProto struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	OpsetImports    []OperatorSetID
	MetadataProps   []StringEntry
}

// OperatorSetID is OperatorSetIdProto.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringEntry is StringStringEntryProto.
type StringEntry struct {
	Key   string
	Value string
}

// GraphProto is a computation graph.
type GraphProto struct {
	Nodes        []NodeProto
	Name         string
	Initializers []TensorProto
	DocString    string
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
}

// NodeProto is one operator invocation.
type NodeProto struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Domain     string
	Attributes []AttributeProto
}

// AttributeProto is a named operator attribute.
type AttributeProto struct {
	Name    string
	Type    AttributeType
	F       float32
	I       int64
	S       []byte
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// TensorProto is a constant tensor.
type TensorProto struct {
	Dims      []int64
	DataType  int32
	FloatData []float32
	Int64Data []int64
	Name      string
}

// ValueInfoProto declares a graph input or output tensor.
type ValueInfoProto struct {
	Name     string
	ElemType int32
	Shape    []Dim
}

// Dim is a tensor dimension: a fixed size or a symbolic name.
type Dim struct {
	Value int64
	Param string
}

// Marshal encodes m in protobuf wire format. Fields are written in a fixed
// order so equal models encode to identical bytes.
func (m *ModelProto) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.IRVersion))
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	b = appendVarintField(b, 5, uint64(m.ModelVersion))
	b = appendStringField(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessageField(b, 7, m.Graph.marshal())
	}
	for _, op := range m.OpsetImports {
		var ob []byte
		ob = appendStringField(ob, 1, op.Domain)
		ob = protowire.AppendTag(ob, 2, protowire.VarintType)
		ob = protowire.AppendVarint(ob, uint64(op.Version))
		b = appendMessageField(b, 8, ob)
	}
	for _, e := range m.MetadataProps {
		var eb []byte
		eb = appendStringField(eb, 1, e.Key)
		eb = appendStringField(eb, 2, e.Value)
		b = appendMessageField(b, 14, eb)
	}
	return b
}

func (g *GraphProto) marshal() []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessageField(b, 1, g.Nodes[i].marshal())
	}
	b = appendStringField(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessageField(b, 5, g.Initializers[i].marshal())
	}
	b = appendStringField(b, 10, g.DocString)
	for i := range g.Inputs {
		b = appendMessageField(b, 11, g.Inputs[i].marshal())
	}
	for i := range g.Outputs {
		b = appendMessageField(b, 12, g.Outputs[i].marshal())
	}
	return b
}

func (n *NodeProto) marshal() []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendBytesField(b, 1, []byte(in))
	}
	for _, out := range n.Outputs {
		b = appendBytesField(b, 2, []byte(out))
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessageField(b, 5, n.Attributes[i].marshal())
	}
	b = appendStringField(b, 7, n.Domain)
	return b
}

// marshal writes only the value field matching a.Type. Repeated scalars are
// unpacked, as declared in onnx.proto.
func (a *AttributeProto) marshal() []byte {
	var b []byte
	b = appendStringField(b, 1, a.Name)
	switch a.Type {
	case AttributeFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case AttributeInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case AttributeString:
		b = appendBytesField(b, 4, a.S)
	case AttributeFloats:
		for _, f := range a.Floats {
			b = protowire.AppendTag(b, 7, protowire.Fixed32Type)
			b = protowire.AppendFixed32(b, math.Float32bits(f))
		}
	case AttributeInts:
		for _, v := range a.Ints {
			b = protowire.AppendTag(b, 8, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(v))
		}
	case AttributeStrings:
		for _, s := range a.Strings {
			b = appendBytesField(b, 9, s)
		}
	}
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Type))
	return b
}

// marshal writes float_data and int64_data packed, as declared in onnx.proto.
func (t *TensorProto) marshal() []byte {
	var b []byte
	for _, d := range t.Dims {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d))
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.DataType))
	if len(t.FloatData) > 0 {
		var pb []byte
		for _, f := range t.FloatData {
			pb = protowire.AppendFixed32(pb, math.Float32bits(f))
		}
		b = appendBytesField(b, 4, pb)
	}
	if len(t.Int64Data) > 0 {
		var pb []byte
		for _, v := range t.Int64Data {
			pb = protowire.AppendVarint(pb, uint64(v))
		}
		b = appendBytesField(b, 7, pb)
	}
	b = appendStringField(b, 8, t.Name)
	return b
}

func (v *ValueInfoProto) marshal() []byte {
	var shape []byte
	for _, d := range v.Shape {
		var db []byte
		if d.Param != "" {
			db = appendStringField(db, 2, d.Param)
		} else {
			db = protowire.AppendTag(db, 1, protowire.VarintType)
			db = protowire.AppendVarint(db, uint64(d.Value))
		}
		shape = appendMessageField(shape, 1, db)
	}

	var tensor []byte
	tensor = protowire.AppendTag(tensor, 1, protowire.VarintType)
	tensor = protowire.AppendVarint(tensor, uint64(v.ElemType))
	tensor = appendMessageField(tensor, 2, shape)

	var typ []byte
	typ = appendMessageField(typ, 1, tensor)

	var b []byte
	b = appendStringField(b, 1, v.Name)
	b = appendMessageField(b, 2, typ)
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendBytesField(b, num, []byte(s))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	return appendBytesField(b, num, msg)
}
