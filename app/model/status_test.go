package model

import "testing"

func TestStatusPredicates(t *testing.T) {
	cases := []struct {
		code      StatusCode
		class     StatusClass
		completed bool
		suspended bool
	}{
		{StatusPending, ClassInformational, false, false},
		{StatusPendingPaused, ClassInformational, false, true},
		{StatusRunning, ClassInformational, false, false},
		{StatusRunningPaused, ClassInformational, false, true},
		{StatusSuccess, ClassSuccess, true, false},
		{StatusCode(301), ClassRedirect, false, false},
		{StatusNotAcceptable, ClassError, true, false},
		{StatusFileError, ClassError, true, false},
		{StatusCode(503), ClassError, true, false},
		{StatusCode(99), ClassReserved, false, false},
		{StatusCode(600), ClassReserved, false, false},
	}

	for _, tc := range cases {
		if got := tc.code.Class(); got != tc.class {
			t.Errorf("%d: class = %v, want %v", tc.code, got, tc.class)
		}
		if got := tc.code.IsCompleted(); got != tc.completed {
			t.Errorf("%d: completed = %v, want %v", tc.code, got, tc.completed)
		}
		if got := tc.code.IsSuspended(); got != tc.suspended {
			t.Errorf("%d: suspended = %v, want %v", tc.code, got, tc.suspended)
		}
	}
}

func TestClientServerErrorRanges(t *testing.T) {
	if !StatusCanceled.IsClientError() || StatusCanceled.IsServerError() {
		t.Fatalf("490 should be a client error only")
	}
	if !StatusCode(500).IsServerError() || StatusCode(500).IsClientError() {
		t.Fatalf("500 should be a server error only")
	}
	if StatusCode(200).IsError() {
		t.Fatalf("200 is not an error")
	}
}

func TestStatusString(t *testing.T) {
	if StatusTooManyRedirects.String() != "too_many_redirects" {
		t.Fatalf("unexpected name %q", StatusTooManyRedirects.String())
	}
	if StatusCode(418).String() != "418" {
		t.Fatalf("unnamed code should print as number")
	}
}

func TestTaskFieldsColumns(t *testing.T) {
	f := TaskFields{
		Control:      Ptr(ControlPaused),
		CurrentBytes: Ptr(int64(0)),
	}
	cols := f.Columns()
	if len(cols) != 2 {
		t.Fatalf("expected 2 columns, got %v", cols)
	}
	if cols["control"] != ControlPaused {
		t.Fatalf("control column = %v", cols["control"])
	}
	if v, ok := cols["current_bytes"]; !ok || v != int64(0) {
		t.Fatalf("zero values must still be written, got %v", v)
	}
	if !(TaskFields{}).IsEmpty() {
		t.Fatalf("empty fields should report empty")
	}
}

func TestTaskProgress(t *testing.T) {
	task := DownloadTask{CurrentBytes: 50, TotalBytes: 200}
	if task.Progress() != 25 {
		t.Fatalf("progress = %d", task.Progress())
	}
	task.TotalBytes = -1
	if task.Progress() != -1 {
		t.Fatalf("unknown total should give -1")
	}
	task = DownloadTask{Status: StatusRunning, Control: ControlPaused}
	if !task.IsPaused() {
		t.Fatalf("control paused should count as paused")
	}
}
