// Пакет cryptox — аутентифицированное симметричное шифрование
// документов at rest.
//
// Схема: per-job случайный 32-байтный secret → PBKDF2-SHA256
// (фиксированная соль, 100000 итераций) → ключ AES-256 → AES-GCM
// со случайным 96-битным IV. Тег аутентичности (128 бит) хранится
// отдельно от шифртекста в строке documents.
//
// Фиксированная соль — не граница безопасности: она делает деривацию
// детерминированной, чтобы сервер мог воспроизвести ключ по
// сохранённому secret. Границей безопасности является сам secret.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ErrTampered — тег аутентичности не сошёлся. Причина наружу не
// раскрывается, чтобы не давать оракула атакующему.
var ErrTampered = errors.New("документ повреждён или подделан")

const (
	// secretLen — длина per-job секрета в байтах
	secretLen = 32
	// keyLen — длина ключа AES-256 в байтах
	keyLen = 32
	// ivLen — длина IV AES-GCM (96 бит)
	ivLen = 12
	// tagLen — длина тега аутентичности AES-GCM (128 бит)
	tagLen = 16
	// DefaultIterations — количество итераций PBKDF2.
	// Зафиксировано для совместимости с существующими шифртекстами.
	DefaultIterations = 100000
)

// fixedSalt — константная соль деривации, общая для производителя и
// потребителя в рамках одного развёртывания.
var fixedSalt = []byte("printlink-envelope-v1")

// Envelope — криптографический конверт документа:
// шифртекст + всё необходимое для восстановления открытого текста.
type Envelope struct {
	// Ciphertext — шифртекст без тега
	Ciphertext []byte
	// Secret — per-job секрет для деривации ключа
	Secret []byte
	// IV — 96-битный вектор инициализации
	IV []byte
	// AuthTag — 128-битный тег аутентичности
	AuthTag []byte
}

// Cipher — шифратор документов с настраиваемым числом итераций PBKDF2.
type Cipher struct {
	iterations int
}

// NewCipher создаёт шифратор. iterations <= 0 — DefaultIterations.
func NewCipher(iterations int) *Cipher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Cipher{iterations: iterations}
}

// Encrypt шифрует документ свежим per-job секретом и случайным IV.
func (c *Cipher) Encrypt(plaintext []byte) (*Envelope, error) {
	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("ошибка генерации секрета: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("ошибка генерации IV: %w", err)
	}

	aesgcm, err := c.newGCM(secret)
	if err != nil {
		return nil, err
	}

	// Seal возвращает шифртекст с тегом в хвосте; тег отделяется
	// для хранения в отдельной колонке
	sealed := aesgcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - tagLen

	return &Envelope{
		Ciphertext: sealed[:split],
		Secret:     secret,
		IV:         iv,
		AuthTag:    sealed[split:],
	}, nil
}

// Decrypt восстанавливает открытый текст из конверта.
// Любая ошибка расшифровки — ErrTampered: fail closed, без деталей.
func (c *Cipher) Decrypt(env *Envelope) ([]byte, error) {
	if len(env.IV) != ivLen || len(env.AuthTag) != tagLen {
		return nil, ErrTampered
	}

	aesgcm, err := c.newGCM(env.Secret)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+tagLen)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := aesgcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrTampered
	}
	return plaintext, nil
}

// newGCM деривирует ключ из секрета и собирает AEAD.
func (c *Cipher) newGCM(secret []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(secret, fixedSalt, c.iterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания шифра: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}
	return aesgcm, nil
}
