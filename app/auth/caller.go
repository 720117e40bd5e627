package auth

import (
	"context"
	"os"
)

type callerKey struct{}

// WithCallerUID 将调用方身份写入上下文
func WithCallerUID(ctx context.Context, uid int) context.Context {
	return context.WithValue(ctx, callerKey{}, uid)
}

// CallerUID 返回上下文中的调用方身份，未设置时使用当前进程的 uid
func CallerUID(ctx context.Context) int {
	if uid, ok := ctx.Value(callerKey{}).(int); ok {
		return uid
	}
	return os.Getuid()
}
