package starlarkengine

import (
	"strconv"

	"go.starlark.net/resolve"
	"go.starlark.net/syntax"
)

// Hidden globals used by rewritten chunks. None of them can be spelled in
// source code.
const (
	// globalsName is the live namespace, read by function bodies.
	globalsName = "$globals"
	// publishName stores top-level bindings as soon as they are made.
	publishName = "$publish"
	// showName writes the representation of an expression statement.
	showName = "$show"
)

// Every chunk is compiled into its own module, and a function keeps reading
// the globals of the module that defined it. To let later chunks rebind what
// a function sees, the chunk is rewritten so that:
//   - top-level bindings are published to the shared namespace right away,
//   - global reads inside function bodies go through that namespace.

type position struct {
	line, col int32
}

func positionOf(pos syntax.Position) position {
	return position{line: pos.Line, col: pos.Col}
}

// functionGlobalReads returns the positions of the identifiers that read a
// global from inside a function body. f must have been resolved.
func functionGlobalReads(f *syntax.File) map[position]bool {
	reads := make(map[position]bool)
	inside := func(n syntax.Node) bool {
		if id, ok := n.(*syntax.Ident); ok {
			if b, ok := id.Binding.(*resolve.Binding); ok && b.Scope == resolve.Global {
				reads[positionOf(id.NamePos)] = true
			}
		}
		return true
	}
	var outside func(n syntax.Node) bool
	outside = func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.DefStmt:
			for _, param := range n.Params {
				syntax.Walk(param, outside)
			}
			for _, stmt := range n.Body {
				syntax.Walk(stmt, inside)
			}
			return false
		case *syntax.LambdaExpr:
			for _, param := range n.Params {
				syntax.Walk(param, outside)
			}
			syntax.Walk(n.Body, inside)
			return false
		}
		return true
	}
	for _, stmt := range f.Stmts {
		syntax.Walk(stmt, outside)
	}
	return reads
}

// globalReads replaces the identifiers found by functionGlobalReads in a
// fresh parse of the same source with lookups in the live namespace.
type globalReads map[position]bool

func (r globalReads) stmts(stmts []syntax.Stmt) {
	for _, stmt := range stmts {
		r.stmt(stmt)
	}
}

func (r globalReads) stmt(stmt syntax.Stmt) {
	switch stmt := stmt.(type) {
	case *syntax.AssignStmt:
		stmt.LHS = r.expr(stmt.LHS)
		stmt.RHS = r.expr(stmt.RHS)
	case *syntax.DefStmt:
		r.exprs(stmt.Params)
		r.stmts(stmt.Body)
	case *syntax.ExprStmt:
		stmt.X = r.expr(stmt.X)
	case *syntax.ForStmt:
		stmt.Vars = r.expr(stmt.Vars)
		stmt.X = r.expr(stmt.X)
		r.stmts(stmt.Body)
	case *syntax.WhileStmt:
		stmt.Cond = r.expr(stmt.Cond)
		r.stmts(stmt.Body)
	case *syntax.IfStmt:
		stmt.Cond = r.expr(stmt.Cond)
		r.stmts(stmt.True)
		r.stmts(stmt.False)
	case *syntax.ReturnStmt:
		stmt.Result = r.expr(stmt.Result)
	}
}

func (r globalReads) exprs(exprs []syntax.Expr) {
	for i, x := range exprs {
		exprs[i] = r.expr(x)
	}
}

func (r globalReads) expr(x syntax.Expr) syntax.Expr {
	switch x := x.(type) {
	case *syntax.Ident:
		if r[positionOf(x.NamePos)] {
			return &syntax.DotExpr{
				X:       &syntax.Ident{NamePos: x.NamePos, Name: globalsName},
				Dot:     x.NamePos,
				NamePos: x.NamePos,
				Name:    &syntax.Ident{NamePos: x.NamePos, Name: x.Name},
			}
		}
	case *syntax.BinaryExpr:
		x.X = r.expr(x.X)
		x.Y = r.expr(x.Y)
	case *syntax.CallExpr:
		x.Fn = r.expr(x.Fn)
		r.exprs(x.Args)
	case *syntax.Comprehension:
		x.Body = r.expr(x.Body)
		for _, clause := range x.Clauses {
			switch clause := clause.(type) {
			case *syntax.ForClause:
				clause.Vars = r.expr(clause.Vars)
				clause.X = r.expr(clause.X)
			case *syntax.IfClause:
				clause.Cond = r.expr(clause.Cond)
			}
		}
	case *syntax.CondExpr:
		x.Cond = r.expr(x.Cond)
		x.True = r.expr(x.True)
		x.False = r.expr(x.False)
	case *syntax.DictEntry:
		x.Key = r.expr(x.Key)
		x.Value = r.expr(x.Value)
	case *syntax.DictExpr:
		r.exprs(x.List)
	case *syntax.DotExpr:
		x.X = r.expr(x.X)
	case *syntax.IndexExpr:
		x.X = r.expr(x.X)
		x.Y = r.expr(x.Y)
	case *syntax.LambdaExpr:
		r.exprs(x.Params)
		x.Body = r.expr(x.Body)
	case *syntax.ListExpr:
		r.exprs(x.List)
	case *syntax.ParenExpr:
		x.X = r.expr(x.X)
	case *syntax.SliceExpr:
		x.X = r.expr(x.X)
		x.Lo = r.expr(x.Lo)
		x.Hi = r.expr(x.Hi)
		x.Step = r.expr(x.Step)
	case *syntax.TupleExpr:
		r.exprs(x.List)
	case *syntax.UnaryExpr:
		x.X = r.expr(x.X)
	}
	return x
}

// publishBindings follows every top-level statement that binds names with a
// call that publishes them. Loop variables are published at the start of
// every iteration.
func publishBindings(stmts []syntax.Stmt) []syntax.Stmt {
	if len(stmts) == 0 {
		return stmts
	}
	result := make([]syntax.Stmt, 0, len(stmts))
	for _, stmt := range stmts {
		result = append(result, stmt)
		switch stmt := stmt.(type) {
		case *syntax.AssignStmt:
			result = appendPublish(result, boundIdents(stmt.LHS, nil))
		case *syntax.DefStmt:
			result = appendPublish(result, []*syntax.Ident{stmt.Name})
		case *syntax.LoadStmt:
			result = appendPublish(result, stmt.To)
		case *syntax.ForStmt:
			body := appendPublish(nil, boundIdents(stmt.Vars, nil))
			stmt.Body = append(body, publishBindings(stmt.Body)...)
		case *syntax.WhileStmt:
			stmt.Body = publishBindings(stmt.Body)
		case *syntax.IfStmt:
			stmt.True = publishBindings(stmt.True)
			stmt.False = publishBindings(stmt.False)
		}
	}
	return result
}

// boundIdents appends the names bound by the assignment target x.
func boundIdents(x syntax.Expr, idents []*syntax.Ident) []*syntax.Ident {
	switch x := x.(type) {
	case *syntax.Ident:
		idents = append(idents, x)
	case *syntax.ParenExpr:
		idents = boundIdents(x.X, idents)
	case *syntax.TupleExpr:
		for _, elem := range x.List {
			idents = boundIdents(elem, idents)
		}
	case *syntax.ListExpr:
		for _, elem := range x.List {
			idents = boundIdents(elem, idents)
		}
	}
	return idents
}

func appendPublish(stmts []syntax.Stmt, idents []*syntax.Ident) []syntax.Stmt {
	if len(idents) == 0 {
		return stmts
	}
	pos := idents[0].NamePos
	args := make([]syntax.Expr, 0, 2*len(idents))
	for _, id := range idents {
		args = append(
			args,
			&syntax.Literal{
				Token:    syntax.STRING,
				TokenPos: id.NamePos,
				Raw:      strconv.Quote(id.Name),
				Value:    id.Name,
			},
			&syntax.Ident{NamePos: id.NamePos, Name: id.Name},
		)
	}
	return append(stmts, &syntax.ExprStmt{X: &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: pos, Name: publishName},
		Lparen: pos,
		Args:   args,
		Rparen: pos,
	}})
}

// showExprStmts makes every expression statement outside function bodies
// write its value, the way an interactive console does.
func showExprStmts(stmts []syntax.Stmt) {
	for _, stmt := range stmts {
		switch stmt := stmt.(type) {
		case *syntax.ExprStmt:
			start, end := stmt.X.Span()
			stmt.X = &syntax.CallExpr{
				Fn:     &syntax.Ident{NamePos: start, Name: showName},
				Lparen: start,
				Args:   []syntax.Expr{stmt.X},
				Rparen: end,
			}
		case *syntax.ForStmt:
			showExprStmts(stmt.Body)
		case *syntax.WhileStmt:
			showExprStmts(stmt.Body)
		case *syntax.IfStmt:
			showExprStmts(stmt.True)
			showExprStmts(stmt.False)
		}
	}
}
