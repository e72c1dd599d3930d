package broker

import (
	"context"
	"testing"
	"time"
)

func TestRunShellCapturesStdout(t *testing.T) {
	b := New(nil, 2)
	res, err := b.RunShell(context.Background(), "echo hello", ShellOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunShellNonZeroExit(t *testing.T) {
	b := New(nil, 2)
	_, err := b.RunShell(context.Background(), "exit 7", ShellOptions{Timeout: 5 * time.Second})
	if err == nil {
		t.Fatal("expected an error for non-zero exit")
	}
	brokerErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error is %T, want *broker.Error", err)
	}
	if brokerErr.Kind != KindExitNonZero {
		t.Errorf("Kind = %q, want %q", brokerErr.Kind, KindExitNonZero)
	}
	if brokerErr.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", brokerErr.ExitCode)
	}
}

func TestRunShellTimeout(t *testing.T) {
	b := New(nil, 2)
	_, err := b.RunShell(context.Background(), "sleep 5", ShellOptions{Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	brokerErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error is %T, want *broker.Error", err)
	}
	if brokerErr.Kind != KindTimeout {
		t.Errorf("Kind = %q, want %q", brokerErr.Kind, KindTimeout)
	}
}

func TestRunShellInput(t *testing.T) {
	b := New(nil, 2)
	res, err := b.RunShell(context.Background(), "cat", ShellOptions{Timeout: 5 * time.Second, Input: "piped in"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "piped in" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "piped in")
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := time.Second

	d1 := BackoffDelay(1, base, maxDelay)
	if d1 < base || d1 > base+base/5 {
		t.Errorf("BackoffDelay(1) = %v, want near base %v", d1, base)
	}

	d5 := BackoffDelay(5, base, maxDelay)
	if d5 > maxDelay+maxDelay/5 {
		t.Errorf("BackoffDelay(5) = %v, exceeds cap %v", d5, maxDelay)
	}

	if BackoffDelay(0, base, maxDelay) != 0 {
		t.Errorf("BackoffDelay(0) should be zero")
	}
}
