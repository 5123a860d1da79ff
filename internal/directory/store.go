// Package directory はユーザーディレクトリ(users_map.json)の読み込みと参照を提供する。
//
// ディレクトリはユーザー名をキーとするJSONファイルで、各エントリに
// 明示的なバックエンド割り当て・ポート・認可済み公開鍵の一覧を持つ。
// ファイルが存在しない場合は空のディレクトリとして扱う(全ユーザーが
// パターンルーティングの対象になる)。一方、ファイルが存在するのに
// 読めない・解析できない場合はフェイルクローズとし、参照は
// ErrUnavailable で失敗する。
package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnavailable はディレクトリが存在するのに読み込めない状態を表す。
// この状態では認証・ルーティングの判断を下してはならない。
var ErrUnavailable = errors.New("ユーザーディレクトリを利用できません")

// Entry はユーザーディレクトリの1ユーザー分の内容を表す。
type Entry struct {
	// Backend は明示的に割り当てられたバックエンド名。空ならパターンルーティングに従う。
	Backend string `json:"backend"`
	// Port は接続先ポートの上書き。0ならバックエンド既定値を使う。
	Port int `json:"port"`
	// AuthorizedKeys は認可済みSSH公開鍵(authorized_keys形式の行)の一覧。
	AuthorizedKeys []string `json:"authorized_keys"`
}

// snapshot は読み込み済みディレクトリの不変なビューを表す。
type snapshot struct {
	// entries はユーザー名からエントリへのマップ。
	entries map[string]Entry
	// modTime は読み込んだファイルの更新時刻。
	modTime time.Time
	// size は読み込んだファイルのサイズ。
	size int64
	// exists は読み込み時点でファイルが存在したかどうか。
	exists bool
}

// Store はユーザーディレクトリファイルを参照するストアである。
// ファイルの更新時刻とサイズを見て、変更があれば参照時に再読み込みする。
type Store struct {
	// path はディレクトリファイルのパス。
	path string
	// mu は再読み込みの直列化に使う。
	mu sync.Mutex
	// current は最新のスナップショット。参照はロックなしで行う。
	current atomic.Pointer[snapshot]
}

// New は指定パスのディレクトリファイルを参照するStoreを作成する。
// ファイルの読み込みは行わないため、起動時はLoadを呼ぶこと。
func New(path string) *Store {
	return &Store{path: path}
}

// Load はディレクトリファイルを読み込み、スナップショットを差し替える。
// ファイルが存在しない場合は空のディレクトリとして成功する。
// 存在するのに読めない・解析できない場合はErrUnavailableを返し、
// スナップショットは差し替えない。
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload()
}

// reload はロック保持中に呼ばれ、ファイルを読み込んでスナップショットを更新する。
func (s *Store) reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.current.Store(&snapshot{entries: map[string]Entry{}, exists: false})
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.current.Store(&snapshot{
		entries: entries,
		modTime: info.ModTime(),
		size:    info.Size(),
		exists:  true,
	})
	return nil
}

// Lookup はユーザー名に対応するエントリを返す。
// ファイルが前回読み込み時から変化していれば先に再読み込みする。
// エントリが存在しない場合は ok=false を返す。ディレクトリが
// 利用できない場合は ErrUnavailable を返し、呼び出し側は
// フェイルクローズしなければならない。
func (s *Store) Lookup(identity string) (Entry, bool, error) {
	snap := s.current.Load()
	if snap == nil || s.stale(snap) {
		s.mu.Lock()
		// ロック待ちの間に他のゴルーチンが再読み込みを終えている場合がある
		snap = s.current.Load()
		if snap == nil || s.stale(snap) {
			if err := s.reload(); err != nil {
				s.mu.Unlock()
				return Entry{}, false, err
			}
			snap = s.current.Load()
			log.Printf("[Directory] ディレクトリを再読み込みしました: %d件", len(snap.entries))
		}
		s.mu.Unlock()
	}

	entry, ok := snap.entries[identity]
	return entry, ok, nil
}

// Len は現在のスナップショットに含まれるエントリ数を返す。
func (s *Store) Len() int {
	snap := s.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.entries)
}

// stale はスナップショットがファイルの現状と食い違っているか判定する。
// statに失敗した場合は再読み込み経路に回して失敗を顕在化させる。
func (s *Store) stale(snap *snapshot) bool {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap.exists
		}
		return true
	}
	if !snap.exists {
		return true
	}
	return !info.ModTime().Equal(snap.modTime) || info.Size() != snap.size
}
