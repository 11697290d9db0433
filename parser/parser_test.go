package parser

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func TestFacadeGetDefaultsToJSON(t *testing.T) {
	f := New()
	assert.Same(t, f.json, f.Get(""))
	assert.Same(t, f.json, f.Get("application/json"))
	assert.Same(t, f.protobuf, f.Get(mimeProtobuf))
}

func TestJSONParserParse(t *testing.T) {
	f := New()
	p := f.Get(mimeJSON)

	out, err := p.Parse([]byte(`{"symbol":"EURUSD","price":1.08}`), "")
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)

	want := map[string]any{"symbol": "EURUSD", "price": 1.08}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("parsed JSON mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONParserRejectsMalformedInput(t *testing.T) {
	f := New()
	_, err := f.Get(mimeJSON).Parse([]byte(`not json`), "")
	require.Error(t, err)
}

func TestJSONParserSchemaNamesIsAlwaysEmpty(t *testing.T) {
	f := New()
	p := f.Get(mimeJSON)
	require.NoError(t, p.AddSchema("Quote", []byte("ignored")))
	assert.Empty(t, p.SchemaNames())
}

// buildQuoteDescriptorSet returns a serialized FileDescriptorSet
// containing a single message "Quote" with a string "symbol" field and
// a double "price" field — enough to exercise the dynamic-message path
// without a generated .pb.go file.
func buildQuoteDescriptorSet(t *testing.T) []byte {
	t.Helper()
	stringType := descriptorpb.FieldDescriptorProto_TYPE_STRING
	doubleType := descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	one := int32(1)
	two := int32(2)

	fd := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("quote.proto"),
		Package: proto.String("streamkit.test"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Quote"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: proto.String("symbol"), Number: &one, Type: &stringType, Label: &optional},
					{Name: proto.String("price"), Number: &two, Type: &doubleType, Label: &optional},
				},
			},
		},
	}

	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fd}}
	data, err := proto.Marshal(set)
	require.NoError(t, err)
	return data
}

func TestProtobufParserAddSchemaAndParse(t *testing.T) {
	f := New()
	p := f.Get(mimeProtobuf)

	schema := buildQuoteDescriptorSet(t)
	require.NoError(t, p.AddSchema("Quote", schema))
	assert.Contains(t, p.SchemaNames(), "Quote")

	// Hand-encode a Quote message's wire bytes: field 1 (string) = "EURUSD",
	// field 2 (double) = 1.08.
	msg := encodeQuoteWireBytes(t, "EURUSD", 1.08)

	out, err := p.Parse(msg, "Quote")
	require.NoError(t, err)
	fields, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "EURUSD", fields["symbol"])
	assert.InDelta(t, 1.08, fields["price"], 0.0001)
}

func TestProtobufParserUnknownSchemaErrors(t *testing.T) {
	f := New()
	p := f.Get(mimeProtobuf)
	_, err := p.Parse([]byte{}, "Nope")
	require.Error(t, err)
}

func TestProtobufParserAddSchemaRejectsMissingMessage(t *testing.T) {
	f := New()
	p := f.Get(mimeProtobuf)
	schema := buildQuoteDescriptorSet(t)
	err := p.AddSchema("DoesNotExist", schema)
	require.Error(t, err)
}

func TestProtobufParserAddSchemaRejectsGarbage(t *testing.T) {
	f := New()
	p := f.Get(mimeProtobuf)
	err := p.AddSchema("Quote", []byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

// encodeQuoteWireBytes builds the raw protobuf wire encoding for a
// Quote{symbol, price} message directly, without a generated type:
// field 1 is a length-delimited string, field 2 is a fixed64 double.
func encodeQuoteWireBytes(t *testing.T, symbol string, price float64) []byte {
	t.Helper()
	var buf []byte

	// Field 1, wire type 2 (length-delimited): tag = (1<<3)|2 = 0x0a
	buf = append(buf, 0x0a, byte(len(symbol)))
	buf = append(buf, symbol...)

	// Field 2, wire type 1 (64-bit): tag = (2<<3)|1 = 0x11
	buf = append(buf, 0x11)
	bits := math.Float64bits(price)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(bits>>(8*i)))
	}
	return buf
}
