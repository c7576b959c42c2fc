package generic

import "sync"

func ParallelEach[T any](items []T, exec func(i int, item T) error) error {
	var (
		wg      sync.WaitGroup
		errChan = make(chan error, len(items))
	)
	wg.Add(len(items))
	for i, item := range items {
		go func(i int, item T) {
			defer wg.Done()
			if err := exec(i, item); err != nil {
				errChan <- err
			}
		}(i, item)
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return err
		}
	}
	return nil
}
