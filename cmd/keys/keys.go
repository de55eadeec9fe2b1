package keys

import (
	"bufio"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"riskexecutor/src/security"
)

// Keys is the credential sealing command. It reads plaintext credentials from
// stdin and prints the sealed form to paste into EXECUTION_API_KEY and
// EXECUTION_API_SECRET.
type Keys struct{}

func (t *Keys) Start() error {
	fmt.Println("Enter one credential per line; blank line or EOF to finish.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 1024), 1024*1024)

	for {
		fmt.Print("credential> ")
		if !scanner.Scan() {
			break
		}

		plain := scanner.Text()
		if plain == "" {
			break
		}

		sealed, err := security.EncryptString(plain)
		if err != nil {
			logrus.WithError(err).Error("Failed to seal credential")
			return err
		}

		fmt.Println(sealed)
	}

	return scanner.Err()
}
