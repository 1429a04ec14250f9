package main

import (
	"fmt"
	"strconv"
)

// *****************************************************************************
// ****************************** SQL Grammar Data *****************************
// *****************************************************************************
//
// A compact SQLite subset, written in EBNF and converted to plain BNF at
// load time. Statement weights lean toward SELECT since reads exercise the
// most planner code without corrupting the scratch databases. Name symbols
// resolve against the schema context so most generated statements touch
// tables that actually exist.

func sqlGrammarEBNF() grammarT {
	return grammarT{
		"<start>": exps("<sql_stmt_list>"),

		"<sql_stmt_list>": exps("<sql_stmt>;( <sql_stmt>;)*"),

		"<sql_stmt>": []expansionT{
			expWith("<select_stmt>", probOpt(0.40)),
			expWith("<insert_stmt>", probOpt(0.15)),
			expWith("<update_stmt>", probOpt(0.15)),
			expWith("<delete_stmt>", probOpt(0.10)),
			{text: "<create_index_stmt>"},
			{text: "<drop_index_stmt>"},
			{text: "<pragma_stmt>"},
			{text: "<analyze_stmt>"},
		},

		// ***** SELECT *****

		"<select_stmt>": exps(
			"SELECT <distinct>?<result_list> FROM <table_ref><join_clause>?" +
				"<where_clause>?<group_clause>?<order_clause>?<limit_clause>?"),

		"<distinct>": exps("DISTINCT "),

		"<result_list>": []expansionT{
			expWith("<result_column>", probOpt(0.7)),
			{text: "<result_column>, <result_list>"},
		},
		"<result_column>": exps("*", "<column_name>", "<aggregate>"),
		"<aggregate>": exps(
			"COUNT(*)",
			"MIN(<column_name>)",
			"MAX(<column_name>)",
			"AVG(<column_name>)",
			"SUM(<column_name>)"),

		"<table_ref>": exps("<table_name>", "<table_name> AS <alias>"),
		"<alias>":     []expansionT{expWith("<any_name>", genOpt(aliasSequence))},

		"<join_clause>": exps(" JOIN <table_name> ON <column_name> = <column_name>"),

		"<where_clause>": exps(" WHERE <expr>"),
		"<expr>": []expansionT{
			expWith("<predicate>", probOpt(0.6)),
			{text: "<predicate> AND <predicate>"},
			{text: "<predicate> OR <predicate>"},
			{text: "NOT <predicate>"},
		},
		"<predicate>": []expansionT{
			{text: "<column_name> <binop> <value>"},
			expWith("<column_name> BETWEEN <number> AND <number>",
				postOpt(orderedBounds)),
			{text: "<column_name> IS NULL"},
			{text: "<column_name> IS NOT NULL"},
			{text: "<column_name> LIKE <string_literal>"},
			{text: "<column_name> IN (<value_list>)"},
		},
		"<binop>": exps("=", "<>", "<", ">", "<=", ">="),

		"<group_clause>": exps(" GROUP BY <column_name>"),
		"<order_clause>": exps(" ORDER BY <column_name> <direction>"),
		"<direction>":    exps("ASC", "DESC"),
		"<limit_clause>": exps(" LIMIT <digits>"),

		// ***** Writes *****

		"<insert_stmt>": []expansionT{
			expWith("INSERT INTO <table_name> (<column_name>) VALUES (<value>)",
				orderOpt(1, 2, 3)),
		},
		"<update_stmt>": exps("UPDATE <table_name> SET <column_name> = <value><where_clause>?"),
		"<delete_stmt>": exps("DELETE FROM <table_name><where_clause>?"),

		// ***** Schema statements *****

		"<create_index_stmt>": exps("CREATE INDEX <any_name> ON <table_name> (<column_name>)"),
		"<drop_index_stmt>":   exps("DROP INDEX <index_name>"),
		"<pragma_stmt>": exps(
			"PRAGMA integrity_check",
			"PRAGMA page_count",
			"PRAGMA table_info(<table_name>)"),
		"<analyze_stmt>": exps("ANALYZE <table_name>"),

		// ***** Names *****

		"<table_name>": []expansionT{
			expWith("<any_name>", preOpt(func(ctx *genContext) hookResult {
				return ctx.useName(tableName)
			})),
		},
		"<column_name>": []expansionT{
			expWith("<any_name>", preOpt(func(ctx *genContext) hookResult {
				return ctx.useName(columnName)
			})),
		},
		"<index_name>": []expansionT{
			expWith("<any_name>", preOpt(func(ctx *genContext) hookResult {
				return ctx.useName(indexName)
			})),
		},
		"<any_name>": exps("x<digits>"),

		// ***** Literals *****

		"<value>":      exps("<number>", "<string_literal>", "NULL"),
		"<value_list>": exps("<value>", "<value>, <value_list>"),

		"<number>": exps("<digits>", "-<digits>", "<digits>.<digits>"),
		"<digits>": []expansionT{
			expWith("<digit>", probOpt(0.7)),
			expWith("<digit><digits>", probOpt(0.3)),
		},
		"<digit>": exps("0", "1", "2", "3", "4", "5", "6", "7", "8", "9"),

		"<string_literal>": exps("'<chars>'"),
		"<chars>": []expansionT{
			expWith("", probOpt(0.3)),
			{text: "<char><chars>"},
		},
		"<char>": exps("a", "b", "c", "d", "e", "f", "g", "%", "_", " "),
	}
}

// loadSQLGrammar converts the EBNF table to BNF; validation happens in the
// engine constructor.
func loadSQLGrammar() grammarT {
	return convertEbnfGrammar(sqlGrammarEBNF())
}

// aliasSequence emits t1, t2, ... on successive uses within one tree, so
// every alias in a statement is distinct.
func aliasSequence(ctx *genContext) func() hookResult {
	var n int
	return func() hookResult {
		n++
		return hrText(fmt.Sprintf("t%d", n))
	}
}

// orderedBounds rewrites "x BETWEEN a AND b" so a <= b, swapping the bounds
// in place when they arrive reversed.
func orderedBounds(args []string) hookResult {
	if len(args) != 3 {
		return hrBool(true)
	}
	low, errLo := strconv.ParseFloat(args[1], 64)
	high, errHi := strconv.ParseFloat(args[2], 64)
	if errLo != nil || errHi != nil || low <= high {
		return hrBool(true)
	}
	return hrList(nil, strPt(args[2]), strPt(args[1]))
}
