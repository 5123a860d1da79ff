// Package backend はバックエンドホスト上でのコマンド実行手段を提供する。
//
// プロビジョニングに必要な操作(アカウント照会、作成、鍵配置)はすべて
// Executorインターフェース経由の単純なコマンド実行として表現する。
// 本番ではSSH経由(SSHExecutor)、ローカル検証環境ではdocker exec経由
// (DockerExecutor)を使い分ける。
//
// Executorのエラーは「バックエンドに到達できなかった・コマンドを
// 起動できなかった」ことだけを意味する。コマンド自体の成否は
// Result.ExitCodeで表現され、エラーにはならない。呼び出し側は
// この区別に依存して到達不能とコマンド失敗を判別する。
package backend
