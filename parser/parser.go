// Package parser implements streamkit.ParserFacade: a JSON parser used
// by default, and a protobuf parser that decodes frames against a
// FileDescriptorSet schema pushed by the subscribe response, with
// graceful downgrade to JSON left to the caller (Subscription) when a
// format is unsupported.
package parser

import (
	"encoding/json"

	"github.com/c360/streamkit"
	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/pkg/cache"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	mimeJSON     = "application/json"
	mimeProtobuf = "application/x-protobuf"
)

// Facade resolves a MIME type to a streamkit.Parser, defaulting to
// JSON for anything it doesn't recognize.
type Facade struct {
	json     streamkit.Parser
	protobuf streamkit.Parser
}

var _ streamkit.ParserFacade = (*Facade)(nil)

// New builds a Facade with a JSON parser and a schema-caching
// protobuf parser ready to go.
func New() *Facade {
	protoParser, err := newProtobufParser()
	if err != nil {
		// newProtobufParser only fails if the underlying cache
		// construction fails, which cache.NewSimple never does.
		panic(err)
	}
	return &Facade{
		json:     &jsonParser{},
		protobuf: protoParser,
	}
}

// Get returns the parser for mimeType, falling back to JSON.
func (f *Facade) Get(mimeType string) streamkit.Parser {
	if mimeType == mimeProtobuf {
		return f.protobuf
	}
	return f.json
}

// jsonParser parses frames as plain JSON; it carries no schema state.
type jsonParser struct{}

func (p *jsonParser) Parse(data []byte, _ string) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WrapInvalid(err, "parser", "jsonParser.Parse", "unmarshal json frame")
	}
	return out, nil
}

func (p *jsonParser) AddSchema(string, []byte) error { return nil }
func (p *jsonParser) SchemaNames() []string           { return nil }

// protobufParser decodes frames against a named message descriptor
// registered via AddSchema (a serialized descriptorpb.FileDescriptorSet;
// the first top-level message type called "name" is used). Descriptors
// are cached by schema name in one cache per Facade, shared by every
// subscription using it; AddSchema with an existing name replaces the
// cached descriptor.
type protobufParser struct {
	schemas cache.Cache[protoreflect.MessageDescriptor]
}

func newProtobufParser() (*protobufParser, error) {
	schemas, err := cache.NewSimple[protoreflect.MessageDescriptor]()
	if err != nil {
		return nil, errors.WrapFatal(err, "parser", "newProtobufParser", "create schema cache")
	}
	return &protobufParser{schemas: schemas}, nil
}

func (p *protobufParser) AddSchema(name string, schema []byte) error {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(schema, &set); err != nil {
		return errors.WrapInvalid(err, "parser", "protobufParser.AddSchema", "unmarshal descriptor set")
	}

	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return errors.WrapInvalid(err, "parser", "protobufParser.AddSchema", "build file registry")
	}

	var found protoreflect.MessageDescriptor
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		if md := fd.Messages().ByName(protoreflect.Name(name)); md != nil {
			found = md
			return false
		}
		return true
	})
	if found == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "parser", "protobufParser.AddSchema", "message type not present in descriptor set: "+name)
	}

	if _, err := p.schemas.Set(name, found); err != nil {
		return errors.WrapFatal(err, "parser", "protobufParser.AddSchema", "cache schema")
	}
	return nil
}

func (p *protobufParser) Parse(data []byte, schemaName string) (any, error) {
	desc, ok := p.schemas.Get(schemaName)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "parser", "protobufParser.Parse", "unknown schema: "+schemaName)
	}

	msg := dynamicpb.NewMessage(desc)
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, errors.WrapInvalid(err, "parser", "protobufParser.Parse", "unmarshal protobuf frame")
	}

	// Normalize to the same any-shaped payload JSON parsing produces,
	// so OnUpdate callers never need to branch on wire format.
	fields := make(map[string]any, msg.Descriptor().Fields().Len())
	msg.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		fields[string(fd.Name())] = v.Interface()
		return true
	})
	return fields, nil
}

func (p *protobufParser) SchemaNames() []string {
	return p.schemas.Keys()
}
