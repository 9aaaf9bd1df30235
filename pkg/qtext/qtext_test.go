package qtext

import (
	"reflect"
	"testing"
)

func TestPrepare(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     string
		text   string
		images []string
	}{
		{name: "plain", in: "  How   are you? ", text: "How are you?"},
		{name: "paragraphs", in: "<p>First&nbsp;line</p><p>Second <b>bold</b></p>", text: "First line\nSecond bold"},
		{name: "break", in: "a<br>b<br/>c", text: "a\nb\nc"},
		{name: "image", in: `<p>Look:</p><img src="https://x/a.png"><img alt="no src">`, text: "Look:", images: []string{"https://x/a.png"}},
		{name: "script dropped", in: "<script>alert(1)</script>Hi", text: "Hi"},
		{name: "entities", in: "Tom &amp; Jerry", text: "Tom & Jerry"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, images := Prepare(tt.in)
			if text != tt.text {
				t.Fatalf("text = %q, want %q", text, tt.text)
			}
			if !reflect.DeepEqual(images, tt.images) {
				t.Fatalf("images = %v, want %v", images, tt.images)
			}
		})
	}
}
