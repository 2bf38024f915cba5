package model

// MaxLevel は到達可能な最大レベル。
const MaxLevel = 36

// MaxExperienceDelta は1回の経験値付与で加算できる上限。
const MaxExperienceDelta = 1_000_000

// levelThresholds[i] はレベル i+1 に到達するために必要な累積経験値。
var levelThresholds = [MaxLevel]int{
	0, 200, 500, 1500,
	3000, 5000, 7000, 9000, 11000, 13000,
	15000, 17000, 19000, 21000, 23000,
	25000, 27000, 29000, 31000, 33000,
	35000, 37000, 39000, 41000, 43000,
	45000, 47000, 49000, 51000, 53000,
	55000, 57000, 59000, 61000, 63000, 65000,
}

// LevelForExp は累積経験値からレベル（1〜MaxLevel）を返す。
// 負の値はレベル1として扱う。
func LevelForExp(exp int) int {
	for i := len(levelThresholds) - 1; i >= 0; i-- {
		if exp >= levelThresholds[i] {
			return i + 1
		}
	}
	return 1
}

// ExpForNextLevel は次のレベルまでに必要な残り経験値を返す。
// 最大レベルに到達している場合は-1を返す。
func ExpForNextLevel(exp int) int {
	level := LevelForExp(exp)
	if level >= MaxLevel {
		return -1
	}
	return levelThresholds[level] - exp
}

// ExpProgressPercentage は現在レベル内での進捗率（0〜100）を返す。
// 最大レベルでは100を返す。
func ExpProgressPercentage(exp int) int {
	level := LevelForExp(exp)
	if level >= MaxLevel {
		return 100
	}
	if exp < 0 {
		exp = 0
	}
	current := levelThresholds[level-1]
	next := levelThresholds[level]
	return (exp - current) * 100 / (next - current)
}
