package types

import "reflect"

// State 开放式字符串键状态映射。
// 工作流的状态字段是动态的（由图节点自行定义），因此边界上保持
// map[string]any，固定实体（Checkpoint/Thread 等）另以结构体建模。
type State = map[string]any

// DeepCopyState 递归复制状态映射。
// 嵌套 map 与 slice 逐层复制；其余值按原样共享（标量不可变）。
func DeepCopyState(s State) State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyState(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// DeepEqualState 深比较两个状态映射。
func DeepEqualState(a, b State) bool {
	return reflect.DeepEqual(a, b)
}
