package maths

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// WriteText 以文本格式导出矩阵
// 每行一行数据，元素以制表符分隔，按行优先顺序
func WriteText(w io.Writer, m mat.Matrix) error {
	writer := bufio.NewWriter(w)
	r, c := m.Dims()
	buf := make([]byte, 0, 32)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				writer.WriteByte('\t')
			}
			buf = strconv.AppendFloat(buf[:0], m.At(i, j), 'g', -1, 64)
			writer.Write(buf)
		}
		writer.WriteByte('\n')
	}
	return writer.Flush()
}

// ReadText 读取空白分隔的文本矩阵，空行与 # 开头的行被忽略
func ReadText(r io.Reader) (*mat.Dense, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var data []float64
	rows, cols := 0, -1
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if cols >= 0 && len(fields) != cols {
			return nil, fmt.Errorf("line %d: expected %d values, got %d", line, cols, len(fields))
		}
		cols = len(fields)
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("no data")
	}
	return mat.NewDense(rows, cols, data), nil
}
