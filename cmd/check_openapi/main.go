package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const componentPrefix = "#/components/"

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas    map[string]schema    `yaml:"schemas"`
		Responses  map[string]yaml.Node `yaml:"responses"`
		Parameters map[string]yaml.Node `yaml:"parameters"`
	} `yaml:"components"`
	raw map[string]any
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
	AllOf      []schema          `yaml:"allOf"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}

	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := check(doc); err != nil {
		exitErr(err)
	}
	fmt.Println("OpenAPI check passed.")
}

func check(doc openAPIDoc) error {
	if len(doc.Paths) == 0 {
		return errors.New("paths missing")
	}
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	if err := validateRequired(doc); err != nil {
		return err
	}
	return validateRefs(doc)
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	return parseDoc(raw)
}

func parseDoc(raw []byte) (openAPIDoc, error) {
	var doc openAPIDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse: %w", err)
	}
	if err := yaml.Unmarshal(raw, &doc.raw); err != nil {
		return doc, fmt.Errorf("parse: %w", err)
	}
	return doc, nil
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

// validateErrorResponse pins the {"error": "..."} body every handler writes on failure.
func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New(`ErrorResponse.required must include "error"`)
	}
	errorProp, ok := s.Properties["error"]
	if !ok || errorProp.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	return nil
}

func validateRequired(doc openAPIDoc) error {
	names := make([]string, 0, len(doc.Components.Schemas))
	for name := range doc.Components.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := requiredDeclared(name, doc.Components.Schemas[name]); err != nil {
			return err
		}
	}
	return nil
}

func requiredDeclared(path string, s schema) error {
	for _, field := range s.Required {
		if _, ok := s.Properties[field]; !ok {
			return fmt.Errorf("%s: required property %q not declared", path, field)
		}
	}
	for name, prop := range s.Properties {
		if err := requiredDeclared(path+"."+name, prop); err != nil {
			return err
		}
	}
	if s.Items != nil {
		if err := requiredDeclared(path+"[]", *s.Items); err != nil {
			return err
		}
	}
	for i, part := range s.AllOf {
		if err := requiredDeclared(fmt.Sprintf("%s.allOf[%d]", path, i), part); err != nil {
			return err
		}
	}
	return nil
}

// validateRefs checks that every local $ref points at a declared component.
func validateRefs(doc openAPIDoc) error {
	refs := collectRefs(doc.raw, nil)
	sort.Strings(refs)
	for _, ref := range refs {
		if !strings.HasPrefix(ref, componentPrefix) {
			return fmt.Errorf("unsupported $ref %q", ref)
		}
		kind, name, ok := strings.Cut(strings.TrimPrefix(ref, componentPrefix), "/")
		if !ok || name == "" {
			return fmt.Errorf("malformed $ref %q", ref)
		}
		var found bool
		switch kind {
		case "schemas":
			_, found = doc.Components.Schemas[name]
		case "responses":
			_, found = doc.Components.Responses[name]
		case "parameters":
			_, found = doc.Components.Parameters[name]
		default:
			return fmt.Errorf("unsupported $ref %q", ref)
		}
		if !found {
			return fmt.Errorf("unresolved $ref %q", ref)
		}
	}
	return nil
}

func collectRefs(node any, out []string) []string {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			if key == "$ref" {
				if ref, ok := child.(string); ok {
					out = append(out, strings.TrimSpace(ref))
				}
				continue
			}
			out = collectRefs(child, out)
		}
	case []any:
		for _, child := range v {
			out = collectRefs(child, out)
		}
	}
	return out
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
