package db

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// ContextWithTx returns a context carrying an open transaction, so stores
// sharing the same database can join it.
func ContextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the transaction carried by ctx, or fallback bound to ctx when
// there is none.
func Conn(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return fallback.WithContext(ctx)
}
