// Package diff は取得済みトロフィーと保存済みレコードの差分計算を提供する。
package diff

import (
	"sort"

	"github.com/hitoshi/trophyman/internal/model"
)

// ComputeNew は取得したトロフィーのうち未保存のものを返す。
// existingKeysに含まれないトロフィーキーのみが新規と判定される。
// 入力の順序は保持され、入力スライスは変更されない。
// 取得結果内の重複キーは最初の1件のみが採用される。
func ComputeNew(fetched []model.FetchedTrophy, existingKeys map[string]struct{}) []model.FetchedTrophy {
	if len(fetched) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fetched))
	var news []model.FetchedTrophy

	for _, trophy := range fetched {
		if _, ok := existingKeys[trophy.TrophyKey]; ok {
			continue
		}
		if _, ok := seen[trophy.TrophyKey]; ok {
			continue
		}
		seen[trophy.TrophyKey] = struct{}{}
		news = append(news, trophy)
	}

	return news
}

// SortByEarned はトロフィーを獲得日時の昇順でソートする。
// 同時刻の場合は元の順序が保持される（安定ソート）。
func SortByEarned(trophies []model.FetchedTrophy) {
	sort.SliceStable(trophies, func(i, j int) bool {
		return trophies[i].EarnedAt.Before(trophies[j].EarnedAt)
	})
}
