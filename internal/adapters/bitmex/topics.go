package bitmex

import "github.com/coachpo/bookkeeper/internal/schema"

// DefaultTables are the tables a trading session normally follows.
var DefaultTables = []string{
	schema.TablePosition,
	schema.TableOrder,
	schema.TableExecution,
	schema.TableWallet,
	schema.TableOrderBookL2,
}

// Topics qualifies each table with symbol. Wallet is account-wide and stays bare.
func Topics(symbol string, tables ...string) []string {
	out := make([]string, 0, len(tables))
	for _, table := range tables {
		if table == schema.TableWallet {
			out = append(out, table)
			continue
		}
		out = append(out, table+":"+symbol)
	}
	return out
}

// RequiresAuth reports whether any topic is account-scoped.
func RequiresAuth(tables []string) bool {
	for _, table := range tables {
		switch table {
		case schema.TableWallet, schema.TablePosition, schema.TableOrder, schema.TableExecution, schema.TableMargin:
			return true
		}
	}
	return false
}
