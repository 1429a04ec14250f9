package main

import (
	"math/rand"
	"sort"
)

// *****************************************************************************
// **************************** Name-Scope Context *****************************
// *****************************************************************************
//
// Grammar pre hooks that reuse existing schema names (table, column, index)
// read them from a context value threaded through the build: one table is
// put in scope per fuzzTree call and the context is read-only afterwards.

type tableSchema struct {
	tableNames  []string
	columnNames []string
	indexNames  []string
}

type schemaT map[string]tableSchema

// defaultSchema mirrors the tables the seed databases are generated with.
var defaultSchema = schemaT{
	"users": {
		tableNames:  []string{"users"},
		columnNames: []string{"id", "name", "email", "age", "joined_date", "score"},
		indexNames:  []string{"idx_users_email"},
	},
	"products": {
		tableNames:  []string{"products"},
		columnNames: []string{"id", "name", "price", "category", "stock"},
		indexNames:  []string{"idx_products_category"},
	},
	"orders": {
		tableNames:  []string{"orders"},
		columnNames: []string{"id", "user_id", "product_id", "quantity", "order_date"},
		indexNames:  []string{"idx_orders_user", "idx_orders_product"},
	},
	"reviews": {
		tableNames:  []string{"reviews"},
		columnNames: []string{"id", "user_id", "product_id", "rating", "comment"},
		indexNames:  []string{},
	},
}

type nameCategory int

const (
	tableName nameCategory = iota
	columnName
	indexName
)

type genContext struct {
	rSrc   *rand.Rand
	schema schemaT
	table  string
}

// newGenContext puts one randomly chosen table in scope for the build.
func newGenContext(rSrc *rand.Rand, schema schemaT) *genContext {
	ctx := &genContext{rSrc: rSrc, schema: schema}
	if len(schema) == 0 {
		return ctx
	}

	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	// Map iteration order is random but not seed-reproducible; sort first
	// so the rand source alone decides.
	sort.Strings(names)
	ctx.table = names[rSrc.Intn(len(names))]
	return ctx
}

// useName draws one existing name of the category from the table in scope.
// With no name available it returns none, leaving grammar production alone.
func (ctx *genContext) useName(cat nameCategory) hookResult {
	if ctx == nil || ctx.table == "" {
		return hrNone()
	}

	var pool []string
	ts := ctx.schema[ctx.table]
	switch cat {
	case tableName:
		pool = ts.tableNames
	case columnName:
		pool = ts.columnNames
	case indexName:
		pool = ts.indexNames
	}
	if len(pool) == 0 {
		return hrNone()
	}
	return hrText(pool[ctx.rSrc.Intn(len(pool))])
}
