package retry

import (
	"context"
	"fmt"
)

// Until повторяет op с паузами по backoff, пока op не вернёт nil или не завершится ctx.
// onErr вызывается после каждой неудачной попытки (try считается с единицы).
// Постоянная ошибка (Permanent) не повторяется и возвращается сразу.
func Until(ctx context.Context, backoff Policy, op func(ctx context.Context) error, onErr func(try int, err error)) error {
	for i := 0; ; i++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if onErr != nil {
			onErr(i+1, err)
		}
		if err := sleep(ctx, backoff.Delay(i)); err != nil {
			return fmt.Errorf("повтор прерван после %d попыток: %w", i+1, err)
		}
	}
}
