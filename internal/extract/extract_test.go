package extract

import (
	"reflect"
	"testing"
)

func TestExtractPlainText(t *testing.T) {
	c := Extract(`{"text":"hello world"}`)
	if c.Text != "hello world" {
		t.Fatalf("got %q", c.Text)
	}
}

func TestExtractNestedTextUnwrapsOneLevel(t *testing.T) {
	c := Extract(`{"text":"{\"text\":\"inner\"}"}`)
	if c.Text != "inner" {
		t.Fatalf("got %q", c.Text)
	}
}

func TestExtractBlockList(t *testing.T) {
	raw := `{"title":"Week plan","content":[[{"tag":"text","text":"Hello "},{"tag":"at","user_name":"Li Lei"},{"tag":"a","text":"link","href":"https://x"}],[{"tag":"img","image_key":"img_v2_abc"}]]}`
	c := Extract(raw)
	want := "Week plan\nHello @Li Lei" + "link\n"
	if c.Text != want {
		t.Fatalf("text: got %q want %q", c.Text, want)
	}
	if !reflect.DeepEqual(c.ImageKeys, []string{"img_v2_abc"}) {
		t.Fatalf("image keys: got %v", c.ImageKeys)
	}
}

func TestExtractLocalizedBlockList(t *testing.T) {
	raw := `{"zh_cn":{"title":"公告","content":[[{"tag":"text","text":"大家好"}]]}}`
	c := Extract(raw)
	if c.Text != "公告\n大家好" {
		t.Fatalf("got %q", c.Text)
	}
}

func TestExtractBareImage(t *testing.T) {
	c := Extract(`{"image_key":"img_v2_k"}`)
	if c.Text != "[image: img_v2_k]" {
		t.Fatalf("got %q", c.Text)
	}
	if len(c.ImageKeys) != 1 || c.ImageKeys[0] != "img_v2_k" {
		t.Fatalf("image keys: %v", c.ImageKeys)
	}
}

func TestExtractBareFile(t *testing.T) {
	c := Extract(`{"file_key":"fk","file_name":"notes.pdf"}`)
	if c.Text != "[file: notes.pdf]" {
		t.Fatalf("got %q", c.Text)
	}
}

func TestExtractInvalidJSONFallsBack(t *testing.T) {
	c := Extract("not json at all")
	if c.Text != "not json at all" {
		t.Fatalf("got %q", c.Text)
	}
}

func TestCharCountStripsMentionMarkers(t *testing.T) {
	n := CharCount("@_user_1 thanks")
	if n != 6 {
		t.Fatalf("got %d", n)
	}
}

func TestCharCountUnicode(t *testing.T) {
	if n := CharCount("你好ab"); n != 4 {
		t.Fatalf("got %d", n)
	}
	if n := CharCount("   "); n != 0 {
		t.Fatalf("got %d", n)
	}
}
