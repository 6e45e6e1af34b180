// Command astraldb is the AstralDB entry point: query checking and
// compilation, file execution, and an interactive REPL over the embedded
// engine.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bumbelbee777/astraldb/internal/config"
	"github.com/bumbelbee777/astraldb/internal/engine"
	"github.com/bumbelbee777/astraldb/internal/logging"
	"github.com/bumbelbee777/astraldb/internal/sql"
	"github.com/bumbelbee777/astraldb/internal/sql/bytecode"
	"github.com/bumbelbee777/astraldb/internal/sql/vm"
)

const version = "0.1.0"

const configFile = "astraldb.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Default()
	if _, err := os.Stat(configFile); err == nil {
		loaded, err := config.Load(configFile)
		if err != nil {
			fmt.Printf("AstralDB: bad config %s: %v\n", configFile, err)
			return -1
		}
		cfg = loaded
	}

	// Logging flags take effect wherever they appear on the command line:
	// they are picked up before any command runs.
	verbose := cfg.Log.Verbose
	logFile := cfg.Log.File
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-V", "--verbose":
			verbose = true
		case "-l", "--log-file":
			if i+1 < len(args) {
				i++
				logFile = args[i]
			} else {
				fmt.Println("AstralDB: No file provided after -l/--log-file")
				return -1
			}
		}
	}
	logger, closer, err := logging.New(logging.Options{Verbose: verbose, File: logFile})
	if err != nil {
		fmt.Printf("AstralDB: %v\n", err)
		return -1
	}
	if closer != nil {
		defer closer.Close()
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-h", "--help":
			printHelp()
			return 0

		case "-v", "--version":
			fmt.Printf("AstralDB version %s\n", version)
			return 0

		case "-q", "--query":
			if i+1 >= len(args) {
				fmt.Println("AstralDB: No query provided after -q/--query")
				return -1
			}
			return dumpQuery(args[i+1])

		case "-c", "--check":
			if i+1 >= len(args) {
				fmt.Println("AstralDB: No file provided after -c/--check")
				return -1
			}
			source, code := readQueryFile(args[i+1])
			if code != 0 {
				return code
			}
			if _, errs := sql.Parse(source); len(errs) > 0 {
				for _, perr := range errs {
					fmt.Println(perr)
				}
				return -1
			}
			fmt.Println("Query syntax OK")
			return 0

		case "-s":
			if i+1 >= len(args) {
				fmt.Println("AstralDB: No file provided after -s")
				return -1
			}
			source, code := readQueryFile(args[i+1])
			if code != 0 {
				return code
			}
			return executeFile(source, cfg, logger)

		case "-fb", "--from-bytecode":
			if i+1 >= len(args) {
				fmt.Println("AstralDB: No file provided after -fb/--from-bytecode")
				return -1
			}
			if _, err := os.ReadFile(args[i+1]); err != nil {
				fmt.Printf("AstralDB: Bytecode file %s does not exist\n", args[i+1])
				return -1
			}
			fmt.Println("[Warning] Bytecode deserialization is not implemented.")
			return 0

		case "-cc", "--compile":
			if i+1 >= len(args) {
				fmt.Println("AstralDB: No file provided after -cc/--compile")
				return -1
			}
			source, code := readQueryFile(args[i+1])
			if code != 0 {
				return code
			}
			return compileFile(source)

		case "-r", "--repl":
			return runREPL(cfg, logger)

		case "-V", "--verbose":
			logger.Info("verbose mode enabled")

		case "-l", "--log-file":
			i++ // value consumed in the logging pre-scan

		case "-m", "--mmap":
			fmt.Println("AstralDB: In-memory mode enabled (not implemented)")

		default:
			if !strings.HasPrefix(arg, "-") {
				source, code := readQueryFile(arg)
				if code != 0 {
					return code
				}
				return dumpQuery(source)
			}
			fmt.Printf("AstralDB: Unknown option %s\n", arg)
			return -1
		}
	}
	return 0
}

func printHelp() {
	fmt.Println("Usage: astraldb [options]")
	fmt.Println("-h, --help\t\tDisplay help")
	fmt.Println("-v, --version\t\tShow version")
	fmt.Println("-q, --query \"QUERY\"\tParse query and print its bytecode")
	fmt.Println("-r, --repl\t\tRun in REPL mode")
	fmt.Println("-c, --check FILE\tCheck input query file only")
	fmt.Println("-V, --verbose\t\tEnable verbose output")
	fmt.Println("-fb, --from-bytecode FILE\tRun input bytecode (not implemented)")
	fmt.Println("-cc, --compile FILE\tCompile query to bytecode")
	fmt.Println("-l, --log-file FILE\tSave logs/audits to file")
	fmt.Println("-s FILE\t\tEvaluate, compile, and run query file")
	fmt.Println("-m, --mmap\t\tStore database in memory only (not implemented)")
}

func readQueryFile(path string) (string, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Printf("AstralDB: File %s does not exist\n", path)
		return "", -1
	}
	if len(data) == 0 {
		fmt.Printf("AstralDB: File %s is empty\n", path)
		return "", -1
	}
	return string(data), 0
}

// dumpQuery parses source and prints the lowered form of every statement.
func dumpQuery(source string) int {
	stmts, errs := sql.Parse(source)
	for _, perr := range errs {
		fmt.Println(perr)
	}
	code, err := bytecode.Generate(stmts)
	if err != nil {
		fmt.Printf("AstralDB: %v\n", err)
		return -1
	}
	fmt.Print(bytecode.Disassemble(code))
	if len(errs) > 0 {
		return -1
	}
	return 0
}

// executeFile runs every statement of source against the configured store
// and prints the disassembly of what ran.
func executeFile(source string, cfg *config.Config, logger *log.Logger) int {
	eng := engine.New(engineOptions(cfg, logger))
	defer eng.Close()

	machine := vm.New(eng, vm.WithLogger(logger))
	stmts, errs := sql.Parse(source)
	for _, perr := range errs {
		fmt.Println(perr)
	}

	var executed bytecode.Program
	for _, stmt := range stmts {
		code, err := bytecode.Emit(stmt)
		if err != nil {
			fmt.Printf("AstralDB: %v\n", err)
			return -1
		}
		if err := machine.Execute(code); err != nil {
			fmt.Printf("AstralDB: %v\n", err)
			return -1
		}
		executed = append(executed, code...)
	}
	fmt.Printf("Executed bytecode:\n%s\n", bytecode.Disassemble(executed))
	if len(errs) > 0 {
		return -1
	}
	return 0
}

// compileFile lowers source and writes the disassembled program to out.abc.
func compileFile(source string) int {
	stmts, errs := sql.Parse(source)
	if len(errs) > 0 {
		for _, perr := range errs {
			fmt.Println(perr)
		}
		return -1
	}
	code, err := bytecode.Generate(stmts)
	if err != nil {
		fmt.Printf("AstralDB: %v\n", err)
		return -1
	}
	if err := os.WriteFile("out.abc", []byte(bytecode.Disassemble(code)), 0o644); err != nil {
		fmt.Println("AstralDB: Could not open output file out.abc")
		return -1
	}
	fmt.Println("Bytecode written to out.abc (disassembled text, not binary)")
	return 0
}

func engineOptions(cfg *config.Config, logger *log.Logger) engine.Options {
	return engine.Options{
		Path:           cfg.Database.Path,
		Logger:         logger,
		FlushDelay:     cfg.Database.FlushDelay,
		IdleDelay:      cfg.Database.IdleDelay,
		IndexBranching: cfg.Database.IndexBranching,
	}
}

// runREPL reads statements interactively and executes them against the
// configured store.
func runREPL(cfg *config.Config, logger *log.Logger) int {
	eng := engine.New(engineOptions(cfg, logger))
	defer eng.Close()
	machine := vm.New(eng, vm.WithLogger(logger))

	session := uuid.New().String()
	logger.WithField("session", session).Info("repl session started")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "astraldb> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline: %v\n", err)
		return -1
	}
	defer func() { _ = rl.Close() }()

	fmt.Printf("AstralDB %s (type exit to quit)\n", version)
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or interrupt
			break
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			logger.WithField("session", session).Info("repl session ended")
			return 0
		}
		if err := machine.RunSQL(line); err != nil {
			fmt.Println(err)
		}
	}
	return 0
}
