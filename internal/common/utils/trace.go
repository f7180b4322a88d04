package utils

import (
	"context"
	"log"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// BeginSubsegment はX-Rayのサブセグメントを開始します
// 親セグメントがなくnilが返る場合は元のコンテキストのまま処理を続けます
func BeginSubsegment(ctx context.Context, name string) (context.Context, *xray.Segment) {
	subCtx, seg := xray.BeginSubsegment(ctx, name)
	if seg == nil {
		return ctx, nil
	}
	return subCtx, seg
}

// CloseSegment はnilのセグメントを無視して閉じます
func CloseSegment(seg *xray.Segment, err error) {
	if seg == nil {
		return
	}
	seg.Close(err)
}

// AddMetadata はセグメントにメタデータを追加します。失敗してもログに残すだけです
func AddMetadata(seg *xray.Segment, key string, value interface{}) {
	if seg == nil {
		return
	}
	if err := seg.AddMetadata(key, value); err != nil {
		log.Printf("Failed to add %s metadata: %v", key, err)
	}
}
