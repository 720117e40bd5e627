package pathhelper

import "testing"

func TestBasename(t *testing.T) {
	cases := map[string]string{
		"a.zip":           "a.zip",
		"dir/a.zip":       "a.zip",
		"/x/y/z.tar.gz":   "z.tar.gz",
		"http://h/p/f.js": "f.js",
		"dir/":            "",
	}
	for in, want := range cases {
		if got := Basename(in); got != want {
			t.Errorf("Basename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeURL(t *testing.T) {
	if got := DecodeURL("http://h/%E4%B8%AD%E6%96%87.txt"); got != "http://h/中文.txt" {
		t.Fatalf("got %q", got)
	}
	if got := DecodeURL("a+b%20c"); got != "a+b c" {
		t.Fatalf("plus must be kept, got %q", got)
	}
	if got := DecodeURL("bad%zz"); got != "bad%zz" {
		t.Fatalf("malformed input should be returned as is, got %q", got)
	}
}

func TestIsSubPath(t *testing.T) {
	if !IsSubPath("/data/downloads/a.bin", "/data/downloads") {
		t.Fatalf("expected sub path")
	}
	if IsSubPath("/data/downloads-old/a.bin", "/data/downloads") {
		t.Fatalf("sibling prefix is not a sub path")
	}
	if IsSubPath("/data/downloads", "/data/downloads") {
		t.Fatalf("directory itself is not a sub path")
	}
}

func TestConvertToLinuxPath(t *testing.T) {
	if got := ConvertToLinuxPath(`C:\Users\me\a.zip`); got != "Users/me/a.zip" {
		t.Fatalf("got %q", got)
	}
}
