package replace

import "strings"

// fileTextKeys are the only fields of a file object that may be rewritten.
var fileTextKeys = []string{keyFilename, "title", "description"}

// rewriteTable rewrites cell values of a rows[].cells[].value grid. Rows or
// cells of the wrong shape are copied unchanged, as is everything outside
// cell values.
func (w *walker) rewriteTable(table map[string]any) (map[string]any, int) {
	out := cloneMap(table)
	rows, ok := table[keyRows].([]any)
	if !ok {
		return out, 0
	}

	total := 0
	newRows := make([]any, len(rows))
	for i, row := range rows {
		rowMap, ok := row.(map[string]any)
		if !ok {
			newRows[i] = deepClone(row)
			continue
		}
		cells, ok := rowMap[keyCells].([]any)
		if !ok {
			newRows[i] = cloneMap(rowMap)
			continue
		}

		newCells := make([]any, len(cells))
		for j, cell := range cells {
			cellMap, ok := cell.(map[string]any)
			if !ok {
				newCells[j] = deepClone(cell)
				continue
			}
			newCell := cloneMap(cellMap)
			if value, present := cellMap[keyValue]; present {
				nv, n := w.walk(value)
				newCell[keyValue] = nv
				total += n
			}
			newCells[j] = newCell
		}

		newRow := cloneMap(rowMap)
		newRow[keyCells] = newCells
		newRows[i] = newRow
	}

	out[keyRows] = newRows
	return out, total
}

// rewriteFile rewrites only the descriptive text of a file object.
func (w *walker) rewriteFile(file map[string]any) (map[string]any, int) {
	out := cloneMap(file)
	total := 0
	for _, k := range fileTextKeys {
		if s, ok := file[k].(string); ok {
			ns, n := w.rewriteString(s)
			out[k] = ns
			total += n
		}
	}
	return out, total
}

// rewriteReference rewrites the top-level string values of a reference.
// Identity fields (uid, *_uid, _-prefixed) are never altered.
func (w *walker) rewriteReference(ref map[string]any) (map[string]any, int) {
	out := cloneMap(ref)
	total := 0
	for k, v := range ref {
		if isMetadataKey(k) || strings.HasSuffix(k, "_uid") {
			continue
		}
		if s, ok := v.(string); ok {
			ns, n := w.rewriteString(s)
			out[k] = ns
			total += n
		}
	}
	return out, total
}
