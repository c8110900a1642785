package gwtypes

import "testing"

func TestCacheOptions_Defaults(t *testing.T) {
	var c CacheOptions

	if !c.ReadEnabled() {
		t.Error("expected default cache mode to allow reads")
	}

	if !c.WriteEnabled() {
		t.Error("expected default cache mode to allow writes")
	}
}

func TestCacheOptions_ReadOnly(t *testing.T) {
	c := CacheOptions{Mode: CacheReadOnly}

	if !c.ReadEnabled() {
		t.Error("expected read_only mode to allow reads")
	}

	if c.WriteEnabled() {
		t.Error("expected read_only mode to disallow writes")
	}
}

func TestCacheOptions_Off(t *testing.T) {
	c := CacheOptions{Mode: CacheOff}

	if c.ReadEnabled() || c.WriteEnabled() {
		t.Error("expected off mode to disallow both reads and writes")
	}
}

func TestRequest_IsDirectModel(t *testing.T) {
	r := &Request{ModelName: "openai::gpt-4o-mini"}
	if !r.IsDirectModel() {
		t.Error("expected request with only ModelName set to be a direct-model request")
	}

	r2 := &Request{FunctionName: "write_haiku"}
	if r2.IsDirectModel() {
		t.Error("expected request with FunctionName set to not be a direct-model request")
	}
}
