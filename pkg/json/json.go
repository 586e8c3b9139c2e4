package json

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

func Marshal(input interface{}) ([]byte, error) {
	return api.Marshal(input)
}

func Unmarshal(input []byte, data interface{}) error {
	return api.Unmarshal(input, data)
}

// UnmarshalNumber 数字解析为 json.Number, 未指定结构时 uint64 的任务 id 不会因转成 float64 丢失精度
func UnmarshalNumber(input []byte, data interface{}) error {
	d := api.NewDecoder(bytes.NewReader(input))
	d.UseNumber()
	return d.Decode(data)
}
