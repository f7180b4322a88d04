package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		fn      func(context.Context) error
		wantErr bool
		wantDL  bool
	}{
		{
			name:    "時間内に完了",
			timeout: time.Second,
			fn:      func(context.Context) error { return nil },
		},
		{
			name:    "処理がエラーを返す",
			timeout: time.Second,
			fn:      func(context.Context) error { return errors.New("boom") },
			wantErr: true,
		},
		{
			name:    "タイムアウト",
			timeout: 10 * time.Millisecond,
			fn: func(ctx context.Context) error {
				<-ctx.Done()
				time.Sleep(20 * time.Millisecond)
				return nil
			},
			wantErr: true,
			wantDL:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunWithTimeout(context.Background(), tt.timeout, tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunWithTimeout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantDL && !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("RunWithTimeout() error = %v, want deadline exceeded", err)
			}
		})
	}
}

func TestCallWithTimeout_NoTimeout(t *testing.T) {
	called := false
	err := CallWithTimeout(context.Background(), 0, func(ctx context.Context) error {
		called = true
		if _, ok := ctx.Deadline(); ok {
			t.Error("deadline should not be set")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("CallWithTimeout() err = %v, called = %v", err, called)
	}
}
