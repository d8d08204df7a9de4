// Package model はドメインモデルを定義する。
package model

import "time"

// TimestampLayout は永続化ファイルで使用する日時フォーマット。
const TimestampLayout = "2006-01-02 15:04:05"

// Participant はウェイトリストに登録された参加者を表す。
// Positionは登録時点の件数+1で決まり、以後変更されない。
type Participant struct {
	Wallet   string
	JoinedAt time.Time
	Position int
}

// AuthRecord は過去に入場を完了したウォレットの記録を表す。
// レコードが存在するだけで「入場済み」とみなす。
type AuthRecord struct {
	Wallet    string
	LastLogin time.Time
}
