package tools

import (
	"context"
	"math/rand/v2"
)

// FoodMenu is the list food.pick draws from.
var FoodMenu = []string{
	"麻辣烫", "肯德基", "麦当劳", "汉堡王", "沙县小吃", "兰州拉面", "黄焖鸡米饭",
	"猪脚饭", "螺蛳粉", "炒饭", "盖浇饭", "寿司", "烤肉", "火锅", "饺子", "包子",
	"泡面加蛋", "自己做", "披萨", "轻食沙拉",
}

// FoodTool answers food.pick with a random dish from FoodMenu.
type FoodTool struct {
	pick func(n int) int
}

// NewFoodTool creates the tool. pick may be nil for math/rand.
func NewFoodTool(pick func(n int) int) *FoodTool {
	if pick == nil {
		pick = rand.IntN
	}
	return &FoodTool{pick: pick}
}

func (t *FoodTool) Name() string          { return FoodPick }
func (t *FoodTool) ConcurrencySafe() bool { return true }

func (t *FoodTool) Invoke(_ context.Context, _ Call) (Outcome, error) {
	return Fact("今日推荐: %s", FoodMenu[t.pick(len(FoodMenu))]), nil
}
