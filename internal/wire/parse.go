package wire

// ParseExpr converts a decoded JSON value (as produced by
// encoding/json.Unmarshal into interface{}) into an Expr, applying the
// grammar rules of spec §4.2.
func ParseExpr(v interface{}) (Expr, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	case map[string]interface{}:
		fields := make(map[string]Expr, len(t))
		for k, val := range t {
			e, err := ParseExpr(val)
			if err != nil {
				return nil, err
			}
			fields[k] = e
		}
		return &Obj{Fields: fields}, nil
	case []interface{}:
		return parseArray(t)
	default:
		return nil, badRequest("unsupported JSON value of type %T in expression position", v)
	}
}

func parseArray(arr []interface{}) (Expr, error) {
	if len(arr) == 0 {
		return nil, badRequest("a literal array must use the [[...]] escape wrapper, got bare []")
	}

	// Rule 3: escaped literal array.
	if inner, ok := arr[0].([]interface{}); ok {
		if len(arr) != 1 {
			return nil, badRequest("escaped array wrapper must contain exactly one element")
		}
		items := make([]Expr, len(inner))
		for i, iv := range inner {
			e, err := ParseExpr(iv)
			if err != nil {
				return nil, err
			}
			items[i] = e
		}
		return &Arr{Items: items}, nil
	}

	tag, ok := arr[0].(string)
	if !ok {
		return nil, badRequest("array expression must start with a reserved tag or a nested array, got %T", arr[0])
	}
	if !ReservedTags[tag] {
		return nil, badRequest("unknown expression tag %q", tag)
	}

	switch tag {
	case "date":
		return parseDate(arr)
	case "error":
		return parseErrorExpr(arr)
	case "import":
		return parseImportLike(arr, false)
	case "pipeline":
		return parseImportLike(arr, true)
	case "remap":
		return parseRemap(arr)
	case "export":
		return parseExportExpr(arr)
	case "promise":
		return parsePromiseExpr(arr)
	}
	panic("unreachable: tag validated against ReservedTags")
}

func parseDate(arr []interface{}) (Expr, error) {
	if len(arr) != 2 {
		return nil, badRequest(`"date" expects exactly one argument, got %d`, len(arr)-1)
	}
	ms, ok := arr[1].(float64)
	if !ok {
		return nil, badRequest(`"date" argument must be a number`)
	}
	return &Date{Ms: ms}, nil
}

func parseErrorExpr(arr []interface{}) (Expr, error) {
	if len(arr) != 3 && len(arr) != 4 {
		return nil, badRequest(`"error" expects 2 or 3 arguments, got %d`, len(arr)-1)
	}
	typ, ok := arr[1].(string)
	if !ok {
		return nil, badRequest(`"error" type must be a string`)
	}
	msg, ok := arr[2].(string)
	if !ok {
		return nil, badRequest(`"error" message must be a string`)
	}
	ev := &ErrorValue{Type: typ, Message: msg}
	if len(arr) == 4 {
		stack, ok := arr[3].(string)
		if !ok {
			return nil, badRequest(`"error" stack must be a string`)
		}
		ev.Stack = stack
		ev.HasStack = true
	}
	return ev, nil
}

func parseImportLike(arr []interface{}, pipeline bool) (Expr, error) {
	tag := "import"
	if pipeline {
		tag = "pipeline"
	}
	if len(arr) < 2 || len(arr) > 4 {
		return nil, badRequest(`%q expects 1 to 3 arguments, got %d`, tag, len(arr)-1)
	}
	id, ok := arr[1].(float64)
	if !ok {
		return nil, badRequest(`%q id must be a number`, tag)
	}

	var path []PathSegment
	hasPath := false
	if len(arr) >= 3 {
		pathArr, ok := arr[2].([]interface{})
		if !ok {
			return nil, badRequest(`%q path must be an array`, tag)
		}
		p, err := parsePath(pathArr)
		if err != nil {
			return nil, err
		}
		path = p
		hasPath = true
	}

	var args Expr
	hasArgs := false
	if len(arr) == 4 {
		a, err := ParseExpr(arr[3])
		if err != nil {
			return nil, err
		}
		args = a
		hasArgs = true
	}

	if pipeline {
		return &Pipeline{ID: int64(id), Path: path, HasPath: hasPath, Args: args, HasArgs: hasArgs}, nil
	}
	return &Import{ID: int64(id), Path: path, HasPath: hasPath, Args: args, HasArgs: hasArgs}, nil
}

func parseRemap(arr []interface{}) (Expr, error) {
	if len(arr) != 5 {
		return nil, badRequest(`"remap" expects exactly 4 arguments, got %d`, len(arr)-1)
	}
	id, ok := arr[1].(float64)
	if !ok {
		return nil, badRequest(`"remap" id must be a number`)
	}
	pathArr, ok := arr[2].([]interface{})
	if !ok {
		return nil, badRequest(`"remap" path must be an array`)
	}
	path, err := parsePath(pathArr)
	if err != nil {
		return nil, err
	}
	capturesArr, ok := arr[3].([]interface{})
	if !ok {
		return nil, badRequest(`"remap" captures must be an array`)
	}
	captures := make([]Expr, len(capturesArr))
	for i, cv := range capturesArr {
		e, err := ParseExpr(cv)
		if err != nil {
			return nil, err
		}
		captures[i] = e
	}
	instrArr, ok := arr[4].([]interface{})
	if !ok {
		return nil, badRequest(`"remap" instructions must be an array`)
	}
	instructions := make([]Expr, len(instrArr))
	for i, iv := range instrArr {
		e, err := ParseExpr(iv)
		if err != nil {
			return nil, err
		}
		instructions[i] = e
	}
	return &Remap{ID: int64(id), Path: path, Captures: captures, Instructions: instructions}, nil
}

func parseExportExpr(arr []interface{}) (Expr, error) {
	if len(arr) != 2 {
		return nil, badRequest(`"export" expects exactly one argument, got %d`, len(arr)-1)
	}
	id, ok := arr[1].(float64)
	if !ok {
		return nil, badRequest(`"export" id must be a number`)
	}
	return &Export{ID: int64(id)}, nil
}

func parsePromiseExpr(arr []interface{}) (Expr, error) {
	if len(arr) != 2 {
		return nil, badRequest(`"promise" expects exactly one argument, got %d`, len(arr)-1)
	}
	id, ok := arr[1].(float64)
	if !ok {
		return nil, badRequest(`"promise" id must be a number`)
	}
	return &Promise{ID: int64(id)}, nil
}

func parsePath(arr []interface{}) ([]PathSegment, error) {
	path := make([]PathSegment, len(arr))
	for i, v := range arr {
		switch t := v.(type) {
		case string:
			path[i] = PathSegment{Key: t}
		case float64:
			path[i] = PathSegment{Index: int(t), IsIndex: true}
		default:
			return nil, badRequest("path segment %d must be a string or a number, got %T", i, v)
		}
	}
	return path, nil
}

// Encode converts an Expr back into a plain JSON-marshalable value,
// re-applying the escape convention for literal arrays (§6.2).
func Encode(e Expr) interface{} {
	switch t := e.(type) {
	case Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return float64(t)
	case String:
		return string(t)
	case *Obj:
		out := make(map[string]interface{}, len(t.Fields))
		for k, v := range t.Fields {
			out[k] = Encode(v)
		}
		return out
	case *Arr:
		items := make([]interface{}, len(t.Items))
		for i, v := range t.Items {
			items[i] = Encode(v)
		}
		// Escape wrapper: the literal array is nested one level deeper.
		return []interface{}{items}
	case *Date:
		return []interface{}{"date", t.Ms}
	case *ErrorValue:
		if t.HasStack {
			return []interface{}{"error", t.Type, t.Message, t.Stack}
		}
		return []interface{}{"error", t.Type, t.Message}
	case *Import:
		return encodeImportLike("import", t.ID, t.Path, t.HasPath, t.Args, t.HasArgs)
	case *Pipeline:
		return encodeImportLike("pipeline", t.ID, t.Path, t.HasPath, t.Args, t.HasArgs)
	case *Remap:
		captures := make([]interface{}, len(t.Captures))
		for i, v := range t.Captures {
			captures[i] = Encode(v)
		}
		instructions := make([]interface{}, len(t.Instructions))
		for i, v := range t.Instructions {
			instructions[i] = Encode(v)
		}
		return []interface{}{"remap", t.ID, encodePath(t.Path), captures, instructions}
	case *Export:
		return []interface{}{"export", t.ID}
	case *Promise:
		return []interface{}{"promise", t.ID}
	default:
		panic("wire: Encode: unhandled Expr type")
	}
}

func encodeImportLike(tag string, id int64, path []PathSegment, hasPath bool, args Expr, hasArgs bool) interface{} {
	out := []interface{}{tag, id}
	if hasArgs {
		// args requires a path element even if empty, per the grammar.
		out = append(out, encodePath(path), Encode(args))
		return out
	}
	if hasPath {
		out = append(out, encodePath(path))
	}
	return out
}

func encodePath(path []PathSegment) []interface{} {
	out := make([]interface{}, len(path))
	for i, seg := range path {
		if seg.IsIndex {
			out[i] = seg.Index
		} else {
			out[i] = seg.Key
		}
	}
	return out
}
